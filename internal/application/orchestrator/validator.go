package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aescanero/grantflow/pkg/domain"
)

const maxMessageLength = 32 * 1024

// Validator validates requests entering the orchestrator
type Validator struct{}

// NewValidator creates a new request validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateKeys validates the owner and subject keys of a thread
func (v *Validator) ValidateKeys(owner, subject string) error {
	for field, key := range map[string]string{"owner": owner, "subject": subject} {
		if strings.TrimSpace(key) == "" {
			return domain.NewValidationError(field, "key is required")
		}
		if strings.Contains(key, domain.ThreadIDSeparator) {
			return domain.NewValidationError(field, fmt.Sprintf("key must not contain %q", domain.ThreadIDSeparator))
		}
	}
	return nil
}

// ValidateThreadID validates a composite thread id
func (v *Validator) ValidateThreadID(threadID string) error {
	_, _, _, err := domain.ParseThreadID(threadID)
	return err
}

// ValidateInput validates an initial or out-of-band state update. Engine
// bookkeeping channels cannot be written by callers.
func (v *Validator) ValidateInput(input *domain.Update) error {
	if input == nil {
		return nil
	}
	if len(input.Completed) > 0 || len(input.Barriers) > 0 || len(input.ResetBarriers) > 0 {
		return domain.NewValidationError("input", "synchronization bookkeeping is managed by the engine")
	}
	if input.InterruptStatus != nil || input.InterruptMetadata != nil || input.ClearInterruptMetadata {
		return domain.NewValidationError("input", "interrupts are managed by the review API")
	}
	for _, msg := range input.Messages {
		if err := v.ValidateMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMessage validates a user message
func (v *Validator) ValidateMessage(msg domain.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return domain.NewValidationError("content", "message content is required")
	}
	if len(msg.Content) > maxMessageLength {
		return domain.NewValidationError("content", fmt.Sprintf("message exceeds %d bytes", maxMessageLength))
	}
	switch msg.Role {
	case "", "user", "assistant", "system":
		return nil
	default:
		return domain.NewValidationError("role", fmt.Sprintf("unsupported role %q", msg.Role))
	}
}

// ValidateCommand validates an asynchronous command
func (v *Validator) ValidateCommand(cmd domain.Command) error {
	if err := v.ValidateThreadID(cmd.ThreadID); err != nil {
		return err
	}
	switch cmd.Type {
	case domain.CommandStart:
		return v.ValidateInput(cmd.Input)
	case domain.CommandMessage:
		if cmd.Message == nil {
			return domain.NewValidationError("message", "message command requires a message")
		}
		return v.ValidateMessage(*cmd.Message)
	case domain.CommandResume:
		if cmd.Input != nil && cmd.Input.UserFeedback != nil {
			return cmd.Input.UserFeedback.Validate()
		}
		return nil
	default:
		return domain.NewValidationError("type", fmt.Sprintf("unsupported command %q", cmd.Type))
	}
}
