package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPrefix = "grantflow:"

// CheckpointStore implements ports.CheckpointStore using Redis.
//
// Layout per thread: a hash of sequence -> checkpoint JSON and a sorted set of
// sequences. A global sorted set indexes threads by last write.
type CheckpointStore struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// Option configures the store
type Option func(*CheckpointStore)

// WithTTL expires thread keys after ttl of inactivity
func WithTTL(ttl time.Duration) Option {
	return func(s *CheckpointStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(s *CheckpointStore) {
		s.prefix = prefix
	}
}

// NewCheckpointStore creates a new Redis checkpoint store
func NewCheckpointStore(client *redis.Client, logger *zap.Logger, opts ...Option) *CheckpointStore {
	s := &CheckpointStore{
		client: client,
		logger: logger,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that Redis is reachable
func (s *CheckpointStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", translate(err))
	}
	return nil
}

// Get returns the latest checkpoint of a thread
func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	seqs, err := s.client.ZRevRange(ctx, s.sequencesKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence index: %w", translate(err))
	}
	if len(seqs) == 0 {
		return nil, domain.ErrCheckpointNotFound
	}

	data, err := s.client.HGet(ctx, s.checkpointsKey(threadID), seqs[0]).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", translate(err))
	}
	return decode(data)
}

// Put upserts a checkpoint keyed by its sequence
func (s *CheckpointStore) Put(ctx context.Context, threadID string, cp *domain.Checkpoint, meta domain.CheckpointMetadata) error {
	if cp == nil {
		return fmt.Errorf("%w: nil checkpoint", domain.ErrMalformedCheckpoint)
	}
	stored := *cp
	stored.ThreadID = threadID
	stored.Metadata = meta
	if err := stored.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedCheckpoint, err)
	}

	seq := strconv.FormatInt(stored.Sequence, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.checkpointsKey(threadID), seq, data)
		pipe.ZAdd(ctx, s.sequencesKey(threadID), redis.Z{Score: float64(stored.Sequence), Member: seq})
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(stored.Timestamp.Unix()), Member: threadID})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.checkpointsKey(threadID), s.ttl)
			pipe.Expire(ctx, s.sequencesKey(threadID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", translate(err))
	}

	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", threadID),
		zap.Int64("sequence", stored.Sequence),
		zap.String("source", string(meta.Source)))

	return nil
}

// List returns all checkpoints of a thread, most recent first
func (s *CheckpointStore) List(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	seqs, err := s.client.ZRevRange(ctx, s.sequencesKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence index: %w", translate(err))
	}
	if len(seqs) == 0 {
		return []*domain.Checkpoint{}, nil
	}

	values, err := s.client.HMGet(ctx, s.checkpointsKey(threadID), seqs...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoints: %w", translate(err))
	}

	out := make([]*domain.Checkpoint, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("checkpoint missing from hash",
				zap.String("thread_id", threadID),
				zap.String("sequence", seqs[i]))
			continue
		}
		cp, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Threads returns thread ids ordered by most recent write
func (s *CheckpointStore) Threads(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", translate(err))
	}
	return ids, nil
}

func (s *CheckpointStore) checkpointsKey(threadID string) string {
	return s.prefix + "checkpoints:" + threadID
}

func (s *CheckpointStore) sequencesKey(threadID string) string {
	return s.prefix + "sequences:" + threadID
}

func (s *CheckpointStore) indexKey() string {
	return s.prefix + "threads"
}

func decode(data []byte) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCheckpoint, err)
	}
	if cp.ChannelValues != nil {
		cp.ChannelValues.Normalize()
	}
	return &cp, nil
}

// translate maps Redis authorization failures onto domain.ErrPermissionDenied
// so the retry wrapper fails fast on them.
func translate(err error) error {
	msg := err.Error()
	for _, prefix := range []string{"NOPERM", "NOAUTH", "WRONGPASS"} {
		if strings.HasPrefix(msg, prefix) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, msg)
		}
	}
	return err
}
