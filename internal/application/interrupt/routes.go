package interrupt

import (
	"fmt"
	"strings"

	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/pkg/domain"
)

// SectionPrefix marks content references that address a single section.
const SectionPrefix = "section:"

// SectionRoute is the Routes key used for every section reference.
const SectionRoute = "section"

// SectionRef returns the content reference of a section.
func SectionRef(id string) string { return SectionPrefix + id }

// ParseRef splits a content reference into its route key and, for section
// references, the section id.
func ParseRef(ref string) (key, sectionID string) {
	if id, ok := strings.CutPrefix(ref, SectionPrefix); ok {
		return SectionRoute, id
	}
	return ref, ""
}

// Route names the nodes that regenerate a piece of content.
type Route struct {
	// Generator produces the content and receives revision guidance.
	Generator string
	// Upstream regenerates the inputs the content is derived from.
	Upstream string
}

// Routes maps content references to the nodes that own them.
type Routes map[string]Route

// Resolve returns the route of a content reference.
func (r Routes) Resolve(ref string) (Route, error) {
	key, _ := ParseRef(ref)
	route, ok := r[key]
	if !ok {
		return Route{}, domain.NewValidationError("contentReference", fmt.Sprintf("no route for %q", ref))
	}
	return route, nil
}

func (r Routes) validate(g *graph.Graph) error {
	for key, route := range r {
		for _, name := range []string{route.Generator, route.Upstream} {
			if name == "" {
				continue
			}
			if _, ok := g.Node(name); !ok {
				return fmt.Errorf("%w: route %q targets unregistered node %q", graph.ErrInvalidGraph, key, name)
			}
		}
		if route.Generator == "" {
			return fmt.Errorf("%w: route %q has no generator", graph.ErrInvalidGraph, key)
		}
	}
	return nil
}
