package domain

import (
	"fmt"
	"time"
)

// CheckpointSource records what produced a checkpoint.
type CheckpointSource string

const (
	SourceInput  CheckpointSource = "input"
	SourceLoop   CheckpointSource = "loop"
	SourceUpdate CheckpointSource = "update"
)

// CheckpointMetadata is persisted alongside every checkpoint.
type CheckpointMetadata struct {
	Source         CheckpointSource `json:"source"`
	Step           int              `json:"step"`
	ParentSequence int64            `json:"parentSequence"`
	Node           string           `json:"node,omitempty"`
}

// Checkpoint is an immutable snapshot of a thread. Writes holds the update that
// produced it from its parent, so replaying Writes in sequence order through
// Apply reconstructs ChannelValues.
type Checkpoint struct {
	ThreadID        string             `json:"threadId"`
	Sequence        int64              `json:"sequence"`
	Timestamp       time.Time          `json:"timestamp"`
	ChannelValues   *WorkflowState     `json:"channelValues"`
	ChannelVersions map[string]int     `json:"channelVersions"`
	Metadata        CheckpointMetadata `json:"metadata"`
	Writes          *Update            `json:"writes,omitempty"`
	Pending         []string           `json:"pending,omitempty"`
	Next            []string           `json:"next,omitempty"`
}

// Validate ensures checkpoint integrity before it is persisted.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil checkpoint", ErrMalformedCheckpoint)
	}
	if c.ThreadID == "" {
		return fmt.Errorf("%w: thread id is required", ErrMalformedCheckpoint)
	}
	if c.Sequence < 1 {
		return fmt.Errorf("%w: sequence must be positive", ErrMalformedCheckpoint)
	}
	if c.ChannelValues == nil {
		return fmt.Errorf("%w: channel values are required", ErrMalformedCheckpoint)
	}
	return nil
}

// NextCheckpoint derives the successor of parent (which may be nil) after
// applying writes. The parent is left untouched.
func NextCheckpoint(threadID string, parent *Checkpoint, state *WorkflowState, writes *Update, written []string, meta CheckpointMetadata) *Checkpoint {
	versions := make(map[string]int)
	var seq int64 = 1
	if parent != nil {
		for k, v := range parent.ChannelVersions {
			versions[k] = v
		}
		seq = parent.Sequence + 1
		meta.ParentSequence = parent.Sequence
	}
	for _, ch := range written {
		versions[ch]++
	}
	return &Checkpoint{
		ThreadID:        threadID,
		Sequence:        seq,
		Timestamp:       time.Now().UTC(),
		ChannelValues:   state,
		ChannelVersions: versions,
		Metadata:        meta,
		Writes:          writes,
	}
}

// Replay rebuilds a state by applying the writes of checkpoints ordered by
// ascending sequence.
func Replay(history []*Checkpoint) *WorkflowState {
	state := NewWorkflowState()
	for _, cp := range history {
		Apply(state, cp.Writes)
	}
	return state
}
