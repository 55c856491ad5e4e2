package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrCheckpointNotFound is returned by stores when a thread has no checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrThreadNotFound is returned when an operation targets an unknown thread.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadExists is returned when starting a thread that already has state.
	ErrThreadExists = errors.New("thread already started")

	// ErrThreadNotInterrupted is returned when feedback or resume targets a
	// thread that is not waiting for review.
	ErrThreadNotInterrupted = errors.New("thread not interrupted")

	// ErrFeedbackMissing is returned when resuming before feedback was submitted.
	ErrFeedbackMissing = errors.New("no pending feedback")

	// ErrRecursionLimit is RecursionLimitExceeded: a run took more steps than allowed.
	ErrRecursionLimit = errors.New("recursion limit exceeded")

	// ErrUnknownTransition is returned when routing targets a node that was not
	// declared as a successor.
	ErrUnknownTransition = errors.New("unknown transition")

	// ErrMalformedCheckpoint marks payloads that cannot be persisted or decoded.
	ErrMalformedCheckpoint = errors.New("malformed checkpoint")

	// ErrPermissionDenied marks backend or collaborator authorization failures.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDocumentNotFound is returned by document sources for unknown references.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSectionNotFound is returned for unknown section ids.
	ErrSectionNotFound = errors.New("section not found")
)

// ValidationError reports a missing or malformed required channel or field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// TransientIOError wraps timeouts, rate limits and 5xx responses from external
// services. It is always retryable.
type TransientIOError struct {
	Op  string
	Err error
}

// NewTransientIOError builds a TransientIOError.
func NewTransientIOError(op string, err error) *TransientIOError {
	return &TransientIOError{Op: op, Err: err}
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// StatusError carries an HTTP-like status code from a backend.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode returns the status code.
func (e *StatusError) StatusCode() int { return e.Code }

type statusCoder interface {
	StatusCode() int
}

// IsRetryable classifies an error for backoff. Rate limits, 5xx, network
// failures and TransientIOError are retried; everything else fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var transient *TransientIOError
	if errors.As(err, &transient) {
		return true
	}

	switch {
	case errors.Is(err, ErrCheckpointNotFound),
		errors.Is(err, ErrMalformedCheckpoint),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrThreadNotFound):
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntax) || errors.As(err, &typeErr) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == http.StatusTooManyRequests {
			return true
		}
		return code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return false
}
