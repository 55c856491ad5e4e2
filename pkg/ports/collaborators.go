package ports

import (
	"context"

	"github.com/aescanero/grantflow/pkg/domain"
)

// Prompt is a request to a content generator.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Generator produces text for content-generation nodes.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// DocumentSource resolves an external reference into document text.
// Implementations return domain.ErrDocumentNotFound or
// domain.ErrPermissionDenied for permanent failures.
type DocumentSource interface {
	Fetch(ctx context.Context, ref string) (*domain.Document, error)
}
