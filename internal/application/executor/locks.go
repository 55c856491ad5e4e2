package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// lockEntry holds the per-thread mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*lockEntry)}
}

func (l *threadLocks) acquire(threadID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		entry = &lockEntry{}
		l.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

func (l *threadLocks) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, threadID)
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// withLock runs fn as the single writer of threadID, in process and, when a
// distributed locker is configured, across processes.
func (e *Executor) withLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	entry := e.locks.acquire(threadID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		e.locks.release(threadID)
	}()

	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, "thread:"+threadID, e.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire thread lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("Failed to release thread lock, it will expire via TTL",
					zap.String("thread_id", threadID),
					zap.Error(err),
				)
			}
		}()
	}

	return fn(ctx)
}
