package storage

import (
	"context"
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/aescanero/grantflow/pkg/retry"
	"go.uber.org/zap"
)

// Retrying wraps a checkpoint store with bounded exponential backoff.
// Non-retryable errors, including domain.ErrCheckpointNotFound, are returned
// on the first attempt.
type Retrying struct {
	inner   ports.CheckpointStore
	policy  retry.Policy
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewRetrying creates a retrying store
func NewRetrying(inner ports.CheckpointStore, policy retry.Policy, metrics ports.MetricsCollector, logger *zap.Logger) *Retrying {
	return &Retrying{
		inner:   inner,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
}

// Get returns the latest checkpoint of a thread
func (r *Retrying) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		cp, err = r.inner.Get(ctx, threadID)
		return err
	}, r.onRetry("get", threadID))
	return cp, err
}

// Put persists a checkpoint
func (r *Retrying) Put(ctx context.Context, threadID string, cp *domain.Checkpoint, meta domain.CheckpointMetadata) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.Put(ctx, threadID, cp, meta)
	}, r.onRetry("put", threadID))
}

// List returns the checkpoints of a thread, most recent first
func (r *Retrying) List(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	var out []*domain.Checkpoint
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.List(ctx, threadID)
		return err
	}, r.onRetry("list", threadID))
	return out, err
}

// Ping forwards to the wrapped store when it supports it
func (r *Retrying) Ping(ctx context.Context) error {
	if p, ok := r.inner.(ports.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *Retrying) onRetry(op, threadID string) retry.OnRetry {
	return func(attempt int, err error, wait time.Duration) {
		r.metrics.RecordStoreRetry(op)
		r.logger.Warn("checkpoint store call failed, retrying",
			zap.String("op", op),
			zap.String("thread_id", threadID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
}
