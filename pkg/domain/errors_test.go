package domain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	syntaxErr := &json.SyntaxError{Offset: 1}

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &domain.StatusError{Code: http.StatusTooManyRequests, Err: errors.New("slow down")}, true},
		{"server error", &domain.StatusError{Code: http.StatusBadGateway, Err: errors.New("bad gateway")}, true},
		{"forbidden", &domain.StatusError{Code: http.StatusForbidden, Err: errors.New("no")}, false},
		{"not found status", &domain.StatusError{Code: http.StatusNotFound, Err: errors.New("missing")}, false},
		{"transient", domain.NewTransientIOError("fetch", errors.New("timeout")), true},
		{"wrapped transient", fmt.Errorf("outer: %w", domain.NewTransientIOError("fetch", io.EOF)), true},
		{"malformed", fmt.Errorf("decode: %w", domain.ErrMalformedCheckpoint), false},
		{"permission", domain.ErrPermissionDenied, false},
		{"json syntax", syntaxErr, false},
		{"validation", domain.NewValidationError("rfpDocument", "missing"), false},
		{"eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"unknown", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.IsRetryable(tc.err))
		})
	}
}

func TestFeedbackValidate(t *testing.T) {
	assert.NoError(t, domain.Feedback{Type: domain.FeedbackApprove}.Validate())
	assert.NoError(t, domain.Feedback{Type: domain.FeedbackRegenerate}.Validate())

	var verr *domain.ValidationError
	assert.ErrorAs(t, domain.Feedback{}.Validate(), &verr)
	assert.ErrorAs(t, domain.Feedback{Type: "reject"}.Validate(), &verr)
}
