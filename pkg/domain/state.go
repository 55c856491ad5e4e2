package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle status of a thread.
type WorkflowStatus string

const (
	WorkflowStatusRunning     WorkflowStatus = "running"
	WorkflowStatusInterrupted WorkflowStatus = "interrupted"
	WorkflowStatusComplete    WorkflowStatus = "complete"
	WorkflowStatusError       WorkflowStatus = "error"
	// WorkflowStatusPaused marks a run that stopped before finishing because
	// some content needs an operator decision (stale or failed sections).
	WorkflowStatusPaused WorkflowStatus = "paused"
)

// LoadStatus tracks the source document.
type LoadStatus string

const (
	LoadStatusNotStarted LoadStatus = "not_started"
	LoadStatusLoading    LoadStatus = "loading"
	LoadStatusLoaded     LoadStatus = "loaded"
	LoadStatusError      LoadStatus = "error"
)

// ContentStatus tracks a generated artifact (research, solution, a section...).
type ContentStatus string

const (
	ContentStatusQueued         ContentStatus = "queued"
	ContentStatusRunning        ContentStatus = "running"
	ContentStatusAwaitingReview ContentStatus = "awaiting_review"
	ContentStatusApproved       ContentStatus = "approved"
	ContentStatusEdited         ContentStatus = "edited"
	ContentStatusStale          ContentStatus = "stale"
	ContentStatusComplete       ContentStatus = "complete"
	ContentStatusError          ContentStatus = "error"
)

// ProcessingStatus tracks feedback handling while a thread is interrupted.
type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "pending"
	ProcessingStatusProcessed ProcessingStatus = "processed"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

// Document is the loaded RFP or funding opportunity.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Status   LoadStatus        `json:"status"`
}

// Result holds a structured result produced by a content-generation node.
type Result struct {
	Status   ContentStatus  `json:"status"`
	Data     map[string]any `json:"data,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
}

// Section is one proposal section. PreviousStatus is always recorded when a
// section goes stale so that "keep" can restore it unambiguously.
type Section struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Content        string        `json:"content,omitempty"`
	Status         ContentStatus `json:"status"`
	PreviousStatus ContentStatus `json:"previousStatus"`
	DependsOn      []string      `json:"dependsOn,omitempty"`
	Feedback       string        `json:"feedback,omitempty"`
}

// Message is an entry of the conversation log.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InterruptStatus is embedded in the state and set by nodes that request review.
type InterruptStatus struct {
	IsInterrupted     bool             `json:"isInterrupted"`
	InterruptionPoint string           `json:"interruptionPoint,omitempty"`
	Feedback          *Feedback        `json:"feedback"`
	ProcessingStatus  ProcessingStatus `json:"processingStatus,omitempty"`
}

// InterruptMetadata describes why a thread paused.
type InterruptMetadata struct {
	NodeID           string         `json:"nodeId"`
	Reason           string         `json:"reason"`
	ContentReference string         `json:"contentReference"`
	Timestamp        time.Time      `json:"timestamp"`
	EvaluationResult map[string]any `json:"evaluationResult,omitempty"`
}

// InterruptDetails is what the interrupt controller exposes to callers.
type InterruptDetails = InterruptMetadata

// WorkflowState is the full set of channels of a thread.
type WorkflowState struct {
	RFPDocument       Document             `json:"rfpDocument"`
	Research          Result               `json:"research"`
	Solution          Result               `json:"solution"`
	Connections       Result               `json:"connections"`
	Sections          map[string]Section   `json:"sections"`
	Messages          []Message            `json:"messages"`
	Errors            []string             `json:"errors"`
	InterruptStatus   InterruptStatus      `json:"interruptStatus"`
	InterruptMetadata *InterruptMetadata   `json:"interruptMetadata,omitempty"`
	UserFeedback      *Feedback            `json:"userFeedback,omitempty"`
	Status            WorkflowStatus       `json:"status"`
	CurrentStep       string               `json:"currentStep,omitempty"`
	Barriers          map[string][]string  `json:"barriers,omitempty"`
	Completed         map[string]int       `json:"completed,omitempty"`
	Extra             map[string]any       `json:"extra,omitempty"`
}

// NewWorkflowState returns an empty running state.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		RFPDocument: Document{Status: LoadStatusNotStarted},
		Sections:    make(map[string]Section),
		Messages:    []Message{},
		Errors:      []string{},
		Status:      WorkflowStatusRunning,
		Barriers:    make(map[string][]string),
		Completed:   make(map[string]int),
	}
}

// Clone returns a deep copy. Nodes running in parallel each receive a clone so
// that none of them can observe a sibling's writes before the merge.
func (s *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	out := NewWorkflowState()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	out.Normalize()
	return out, nil
}

// Normalize allocates nil channel containers, typically after decoding.
func (s *WorkflowState) Normalize() {
	if s.Sections == nil {
		s.Sections = make(map[string]Section)
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Errors == nil {
		s.Errors = []string{}
	}
	if s.Barriers == nil {
		s.Barriers = make(map[string][]string)
	}
	if s.Completed == nil {
		s.Completed = make(map[string]int)
	}
}
