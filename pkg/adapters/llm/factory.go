package llm

import (
	"fmt"

	"github.com/aescanero/grantflow/pkg/adapters/llm/anthropic"
	"github.com/aescanero/grantflow/pkg/ports"
	"go.uber.org/zap"
)

// Config holds generator configuration
type Config struct {
	Provider string
	APIKey   string
	Model    string
	Logger   *zap.Logger
}

// NewGenerator creates a content generator based on provider
func NewGenerator(cfg *Config) (ports.Generator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "anthropic", "":
		client, err := anthropic.NewClient(cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
