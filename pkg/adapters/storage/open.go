package storage

import (
	"context"
	"time"

	"github.com/aescanero/grantflow/pkg/adapters/storage/memory"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/aescanero/grantflow/pkg/retry"
	"go.uber.org/zap"
)

// Open returns primary when it answers a ping, retrying with policy. When the
// durable backend is unreachable it returns a volatile in-memory store and
// logs a single warning. The boolean reports whether primary is in use.
func Open(ctx context.Context, primary ports.CheckpointStore, policy retry.Policy, pingTimeout time.Duration, logger *zap.Logger) (ports.CheckpointStore, bool) {
	pinger, ok := primary.(ports.Pinger)
	if !ok {
		return primary, true
	}
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := retry.Do(pingCtx, policy, pinger.Ping, func(attempt int, err error, wait time.Duration) {
		logger.Debug("checkpoint backend not reachable yet",
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	if err == nil {
		return primary, true
	}

	logger.Warn("durable checkpoint backend unreachable, using in-memory store; thread state will not survive a restart",
		zap.Error(err))
	return memory.NewCheckpointStore(), false
}
