// Package proposaltest provides a scripted generator for exercising the
// proposal workflow without a model provider.
package proposaltest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aescanero/grantflow/pkg/ports"
)

// Prompt kinds recognized by Generator.
const (
	KindResearch    = "research"
	KindSolution    = "solution"
	KindConnections = "connections"
	KindRespond     = "respond"
	KindSection     = "section"
)

// Generator answers proposal prompts with canned content. Analysis prompts
// get JSON objects and section prompts get enough words to meet any minimum.
type Generator struct {
	mu       sync.Mutex
	prompts  map[string][]ports.Prompt
	failures map[string][]error
}

// NewGenerator creates a generator.
func NewGenerator() *Generator {
	return &Generator{
		prompts:  make(map[string][]ports.Prompt),
		failures: make(map[string][]error),
	}
}

// Fail queues errors returned by the next calls of kind.
func (g *Generator) Fail(kind string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[kind] = append(g.failures[kind], errs...)
}

// Calls returns the number of prompts of kind received so far.
func (g *Generator) Calls(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts[kind])
}

// Prompts returns the prompts of kind received so far.
func (g *Generator) Prompts(kind string) []ports.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.Prompt(nil), g.prompts[kind]...)
}

// Generate implements ports.Generator.
func (g *Generator) Generate(ctx context.Context, prompt ports.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := Kind(prompt)

	g.mu.Lock()
	g.prompts[kind] = append(g.prompts[kind], prompt)
	var err error
	if queued := g.failures[kind]; len(queued) > 0 {
		err, g.failures[kind] = queued[0], queued[1:]
	}
	n := len(g.prompts[kind])
	g.mu.Unlock()
	if err != nil {
		return "", err
	}

	switch kind {
	case KindResearch:
		return fmt.Sprintf("Analysis follows.\n```json\n{\"summary\": \"funder priorities v%d\", \"priorities\": [\"rural access\"]}\n```", n), nil
	case KindSolution:
		return fmt.Sprintf(`{"summary": "mobile clinics v%d", "requirements": ["staffing"]}`, n), nil
	case KindConnections:
		return fmt.Sprintf(`{"summary": "pairing v%d", "pairs": [{"priority": "rural access", "evidence": "mobile clinics"}]}`, n), nil
	case KindRespond:
		return "Happy to help with the proposal.", nil
	default:
		return strings.TrimSpace(strings.Repeat("evidence ", 300)), nil
	}
}

// Kind classifies a prompt built by the proposal nodes.
func Kind(p ports.Prompt) string {
	switch {
	case strings.Contains(p.User, "funder's priorities"):
		return KindResearch
	case strings.Contains(p.User, "solution the RFP"):
		return KindSolution
	case strings.Contains(p.User, "Pair each funder priority"):
		return KindConnections
	case strings.Contains(p.User, "Answer the applicant's message"):
		return KindRespond
	default:
		return KindSection
	}
}
