// Package anthropic implements ports.Generator on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"go.uber.org/zap"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens is used when a prompt does not set MaxTokens.
const DefaultMaxTokens = 2048

// Client generates text with Claude.
type Client struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a client. Retries are left to the caller's retry policy.
func NewClient(apiKey, model string, logger *zap.Logger, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, domain.NewValidationError("apiKey", "anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger.Named("anthropic"),
	}, nil
}

// Generate sends one user turn and returns the concatenated text blocks.
func (c *Client) Generate(ctx context.Context, prompt ports.Prompt) (string, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	started := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	c.logger.Debug("generation completed",
		zap.String("model", c.model),
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("duration", time.Since(started)))
	return b.String(), nil
}

// classify exposes the API status code so 429 and 5xx responses are retried.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return fmt.Errorf("%w: anthropic: %v", domain.ErrPermissionDenied, err)
		}
		return &domain.StatusError{Code: apiErr.StatusCode, Err: fmt.Errorf("anthropic request failed: %w", err)}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewTransientIOError("anthropic", err)
}
