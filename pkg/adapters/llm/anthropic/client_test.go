package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", "claude-test", zap.NewNop(), option.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": "Statement "},
				{"type": "text", "text": "of need"},
			},
			"usage": map[string]any{"input_tokens": 12, "output_tokens": 4},
		})
	})

	text, err := c.Generate(context.Background(), ports.Prompt{System: "be brief", User: "write", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "Statement of need", text)

	assert.Equal(t, "claude-test", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(64), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "be brief", gjson.GetBytes(body, "system.0.text").String())
	assert.Equal(t, "write", gjson.GetBytes(body, "messages.0.content.0.text").String())
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		denied    bool
	}{
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusInternalServerError, retryable: true},
		{status: http.StatusBadRequest},
		{status: http.StatusUnauthorized, denied: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			})
			_, err := c.Generate(context.Background(), ports.Prompt{User: "write"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
			if tt.denied {
				assert.ErrorIs(t, err, domain.ErrPermissionDenied)
			}
		})
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient("", "", zap.NewNop())
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}
