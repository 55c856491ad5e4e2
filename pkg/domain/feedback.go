package domain

import (
	"fmt"
	"time"
)

// FeedbackType is the reviewer's decision on interrupted content.
type FeedbackType string

const (
	FeedbackApprove    FeedbackType = "approve"
	FeedbackRevise     FeedbackType = "revise"
	FeedbackRegenerate FeedbackType = "regenerate"
)

// Feedback is submitted while a thread is interrupted.
type Feedback struct {
	Type             FeedbackType `json:"type"`
	Comments         string       `json:"comments,omitempty"`
	ContentReference string       `json:"contentReference,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// Validate checks the feedback type.
func (f Feedback) Validate() error {
	switch f.Type {
	case FeedbackApprove, FeedbackRevise, FeedbackRegenerate:
		return nil
	case "":
		return NewValidationError("type", "feedback type is required")
	default:
		return NewValidationError("type", fmt.Sprintf("unsupported feedback type %q", f.Type))
	}
}

// StaleAction resolves a stale section.
type StaleAction string

const (
	StaleKeep       StaleAction = "keep"
	StaleRegenerate StaleAction = "regenerate"
)
