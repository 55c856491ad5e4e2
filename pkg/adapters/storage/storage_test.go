package storage_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/grantflow/pkg/adapters/metrics/noop"
	"github.com/aescanero/grantflow/pkg/adapters/storage"
	"github.com/aescanero/grantflow/pkg/adapters/storage/memory"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fast = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

// flakyStore fails the first n calls of each operation with err.
type flakyStore struct {
	*memory.CheckpointStore
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	pingErr  error
}

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, threadID string, cp *domain.Checkpoint, meta domain.CheckpointMetadata) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.CheckpointStore.Put(ctx, threadID, cp, meta)
}

func (f *flakyStore) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.CheckpointStore.Get(ctx, threadID)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func checkpoint(threadID string) *domain.Checkpoint {
	return domain.NextCheckpoint(threadID, nil, domain.NewWorkflowState(), nil, nil, domain.CheckpointMetadata{Source: domain.SourceInput})
}

func TestRetrying_RetriesServerErrors(t *testing.T) {
	inner := &flakyStore{
		CheckpointStore: memory.NewCheckpointStore(),
		failures:        2,
		err:             &domain.StatusError{Code: http.StatusServiceUnavailable, Err: errors.New("unavailable")},
	}
	store := storage.NewRetrying(inner, fast, noop.NewCollector(), zap.NewNop())

	cp := checkpoint("u::s::proposal")
	require.NoError(t, store.Put(context.Background(), cp.ThreadID, cp, cp.Metadata))
	assert.Equal(t, 3, inner.calls)
}

func TestRetrying_FailsFastOnPermission(t *testing.T) {
	inner := &flakyStore{
		CheckpointStore: memory.NewCheckpointStore(),
		failures:        5,
		err:             domain.ErrPermissionDenied,
	}
	store := storage.NewRetrying(inner, fast, noop.NewCollector(), zap.NewNop())

	cp := checkpoint("u::s::proposal")
	err := store.Put(context.Background(), cp.ThreadID, cp, cp.Metadata)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, 1, inner.calls)
}

func TestRetrying_NotFoundIsNotRetried(t *testing.T) {
	inner := &flakyStore{CheckpointStore: memory.NewCheckpointStore()}
	store := storage.NewRetrying(inner, fast, noop.NewCollector(), zap.NewNop())

	_, err := store.Get(context.Background(), "missing::thread::proposal")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	assert.Equal(t, 1, inner.calls)
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	inner := &flakyStore{
		CheckpointStore: memory.NewCheckpointStore(),
		failures:        10,
		err:             &domain.StatusError{Code: http.StatusTooManyRequests, Err: errors.New("slow down")},
	}
	store := storage.NewRetrying(inner, fast, noop.NewCollector(), zap.NewNop())

	cp := checkpoint("u::s::proposal")
	err := store.Put(context.Background(), cp.ThreadID, cp, cp.Metadata)
	assert.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestOpen_FallsBackToMemoryWithOneWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	primary := &flakyStore{
		CheckpointStore: memory.NewCheckpointStore(),
		pingErr:         domain.NewTransientIOError("dial", errors.New("connection refused")),
	}

	store, durable := storage.Open(context.Background(), primary, fast, time.Second, logger)
	assert.False(t, durable)
	assert.IsType(t, &memory.CheckpointStore{}, store)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		cp := checkpoint("user-1::rfp-42::proposal")
		cp.Sequence = int64(i + 1)
		require.NoError(t, store.Put(ctx, cp.ThreadID, cp, cp.Metadata))
	}
	got, err := store.Get(ctx, "user-1::rfp-42::proposal")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Sequence)

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, 0, primary.calls, "primary must not be used after fallback")
}

func TestOpen_UsesReachablePrimary(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	primary := &flakyStore{CheckpointStore: memory.NewCheckpointStore()}

	store, durable := storage.Open(context.Background(), primary, fast, time.Second, zap.New(core))
	assert.True(t, durable)
	assert.Same(t, primary, store)
	assert.Equal(t, 0, logs.Len())
}
