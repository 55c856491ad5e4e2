package graph

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidGraph is returned by Build when the declaration is inconsistent.
var ErrInvalidGraph = errors.New("invalid graph")

type conditional struct {
	router  RouterFunc
	targets []string
}

// Builder accumulates a graph declaration.
type Builder struct {
	nodes       map[string]*Node
	order       []string
	edges       map[string][]string
	conditional map[string]*conditional
	entry       string
	errs        []error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:       make(map[string]*Node),
		edges:       make(map[string][]string),
		conditional: make(map[string]*conditional),
	}
}

// AddNode registers a node.
func (b *Builder) AddNode(name string, fn NodeFunc, opts ...NodeOption) *Builder {
	if name == "" || name == End {
		b.errs = append(b.errs, fmt.Errorf("node name %q is reserved", name))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %q registered twice", name))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("node %q has no function", name))
		return b
	}

	n := &Node{Name: name, Fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	b.nodes[name] = n
	b.order = append(b.order, name)
	return b
}

// AddJoin registers a synchronization node that fires only once every member
// of predecessors has completed since it last fired.
func (b *Builder) AddJoin(name string, fn NodeFunc, predecessors []string, opts ...NodeOption) *Builder {
	if len(predecessors) == 0 {
		b.errs = append(b.errs, fmt.Errorf("join %q has no predecessors", name))
		return b
	}
	b.AddNode(name, fn, opts...)
	if n, ok := b.nodes[name]; ok {
		n.join = true
		n.predecessors = append([]string(nil), predecessors...)
	}
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[from] = append(b.edges[from], to)
	return b
}

// AddConditionalEdges routes from a node through router. The router may only
// return names listed in targets.
func (b *Builder) AddConditionalEdges(from string, router RouterFunc, targets ...string) *Builder {
	if router == nil {
		b.errs = append(b.errs, fmt.Errorf("conditional edges from %q have no router", from))
		return b
	}
	if _, exists := b.conditional[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %q already has conditional edges", from))
		return b
	}
	b.conditional[from] = &conditional{router: router, targets: append([]string(nil), targets...)}
	return b
}

// SetEntry sets the node where new threads start.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// Build validates the declaration and returns an immutable graph.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	known := func(name string) bool {
		if name == End {
			return true
		}
		_, ok := b.nodes[name]
		return ok
	}

	if b.entry == "" {
		errs = append(errs, errors.New("entry node is not set"))
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %q is not registered", b.entry))
	}

	for from, targets := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge source %q is not registered", from))
		}
		for _, to := range targets {
			if !known(to) {
				errs = append(errs, fmt.Errorf("edge %s -> %s targets an unregistered node", from, to))
			}
		}
		if _, ok := b.conditional[from]; ok {
			errs = append(errs, fmt.Errorf("node %q has both static and conditional edges", from))
		}
	}

	for from, c := range b.conditional {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional source %q is not registered", from))
		}
		if len(c.targets) == 0 {
			errs = append(errs, fmt.Errorf("conditional edges from %q declare no targets", from))
		}
		for _, to := range c.targets {
			if !known(to) {
				errs = append(errs, fmt.Errorf("conditional edge %s -> %s targets an unregistered node", from, to))
			}
		}
	}

	feeds := make(map[string][]string)
	for _, name := range b.order {
		n := b.nodes[name]
		for _, to := range n.successors {
			if !known(to) {
				errs = append(errs, fmt.Errorf("node %q declares unregistered successor %q", name, to))
			}
		}
		if !n.join {
			continue
		}
		for _, p := range n.predecessors {
			if _, ok := b.nodes[p]; !ok {
				errs = append(errs, fmt.Errorf("join %q has unregistered predecessor %q", name, p))
				continue
			}
			if !slices.Contains(feeds[p], name) {
				feeds[p] = append(feeds[p], name)
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}

	g := &Graph{
		entry:       b.entry,
		nodes:       make(map[string]*Node, len(b.nodes)),
		order:       append([]string(nil), b.order...),
		edges:       make(map[string][]string, len(b.edges)),
		conditional: make(map[string]*conditional, len(b.conditional)),
		feeds:       feeds,
	}
	for name, n := range b.nodes {
		g.nodes[name] = n
	}
	for from, targets := range b.edges {
		g.edges[from] = append([]string(nil), targets...)
	}
	for from, c := range b.conditional {
		g.conditional[from] = c
	}
	return g, nil
}
