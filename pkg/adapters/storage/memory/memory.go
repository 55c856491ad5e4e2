package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/grantflow/pkg/domain"
)

// CheckpointStore keeps checkpoints in process memory. Checkpoints are stored
// encoded so callers can never mutate a persisted snapshot.
type CheckpointStore struct {
	threads map[string]map[int64][]byte
	mu      sync.RWMutex
}

// NewCheckpointStore creates a new in-memory checkpoint store
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		threads: make(map[string]map[int64][]byte),
	}
}

// Get returns the latest checkpoint of a thread
func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seqs := s.threads[threadID]
	if len(seqs) == 0 {
		return nil, domain.ErrCheckpointNotFound
	}

	var latest int64
	for seq := range seqs {
		if seq > latest {
			latest = seq
		}
	}
	return decode(seqs[latest])
}

// Put stores a checkpoint, replacing any checkpoint with the same sequence
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.threads[threadID] == nil {
		s.threads[threadID] = make(map[int64][]byte)
	}
	s.threads[threadID][stored.Sequence] = data
	return nil
}

// List returns all checkpoints of a thread, most recent first
func (s *CheckpointStore) List(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seqs := make([]int64, 0, len(s.threads[threadID]))
	for seq := range s.threads[threadID] {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })

	out := make([]*domain.Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		cp, err := decode(s.threads[threadID][seq])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Threads returns the ids of all threads with at least one checkpoint
func (s *CheckpointStore) Threads(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping always succeeds
func (s *CheckpointStore) Ping(ctx context.Context) error {
	return nil
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
