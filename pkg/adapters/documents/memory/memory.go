package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/aescanero/grantflow/pkg/domain"
)

// Source serves documents from memory.
type Source struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

// NewSource creates an empty source.
func NewSource() *Source {
	return &Source{docs: make(map[string]domain.Document)}
}

// Put stores the text of a document under ref.
func (s *Source) Put(ref, text string, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[ref] = domain.Document{ID: ref, Text: text, Metadata: maps.Clone(metadata)}
}

// Fetch implements ports.DocumentSource.
func (s *Source) Fetch(ctx context.Context, ref string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
	}
	doc.Metadata = maps.Clone(doc.Metadata)
	return &doc, nil
}
