package ports

import (
	"context"

	"github.com/aescanero/grantflow/pkg/domain"
)

// CheckpointStore persists thread checkpoints. Implementations must isolate
// threads from each other and treat Put as an idempotent upsert keyed by
// (threadID, sequence).
type CheckpointStore interface {
	// Get returns the latest checkpoint of a thread, or
	// domain.ErrCheckpointNotFound when the thread has none.
	Get(ctx context.Context, threadID string) (*domain.Checkpoint, error)

	// Put persists a checkpoint with its metadata.
	Put(ctx context.Context, threadID string, cp *domain.Checkpoint, meta domain.CheckpointMetadata) error

	// List returns the thread's checkpoints, most recent first.
	List(ctx context.Context, threadID string) ([]*domain.Checkpoint, error)
}

// Pinger is implemented by durable backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
