package graph

import (
	"fmt"
	"slices"

	"github.com/aescanero/grantflow/pkg/domain"
)

// Graph is a validated, immutable workflow graph.
type Graph struct {
	entry       string
	nodes       map[string]*Node
	order       []string
	edges       map[string][]string
	conditional map[string]*conditional
	feeds       map[string][]string
}

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// Node looks up a registered node.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns node names in registration order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

// JoinsFedBy returns the joins that list name as a predecessor.
func (g *Graph) JoinsFedBy(name string) []string {
	return append([]string(nil), g.feeds[name]...)
}

// JoinReady reports whether join may fire on state: every predecessor has
// been recorded in the join's barrier and the optional readiness check holds.
// Non-join nodes are always ready.
func (g *Graph) JoinReady(name string, state *domain.WorkflowState) bool {
	n, ok := g.nodes[name]
	if !ok || !n.join {
		return true
	}
	arrived := state.Barriers[name]
	for _, p := range n.predecessors {
		if !slices.Contains(arrived, p) {
			return false
		}
	}
	if n.ready != nil {
		return n.ready(state)
	}
	return true
}

// Next resolves the successors of a completed node. A Goto directive takes
// precedence over conditional edges, which take precedence over static
// edges. Transitions that were not declared return domain.ErrUnknownTransition.
func (g *Graph) Next(from string, res Result, state *domain.WorkflowState) ([]string, error) {
	n, ok := g.nodes[from]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", domain.ErrUnknownTransition, from)
	}
	if len(res.Goto) > 0 {
		for _, to := range res.Goto {
			if to != End && !slices.Contains(n.successors, to) {
				return nil, fmt.Errorf("%w: %s -> %s was not declared", domain.ErrUnknownTransition, from, to)
			}
		}
		return dedupe(res.Goto), nil
	}
	return g.Route(from, state)
}

// Route evaluates the declared outgoing edges of from.
func (g *Graph) Route(from string, state *domain.WorkflowState) ([]string, error) {
	if c, ok := g.conditional[from]; ok {
		targets := c.router(state)
		for _, to := range targets {
			if !slices.Contains(c.targets, to) {
				return nil, fmt.Errorf("%w: router of %s returned %q", domain.ErrUnknownTransition, from, to)
			}
		}
		return dedupe(targets), nil
	}
	return append([]string(nil), g.edges[from]...), nil
}

// Successors returns every node reachable from name in one transition,
// through static edges, conditional targets or declared Goto successors.
func (g *Graph) Successors(name string) []string {
	var out []string
	out = append(out, g.edges[name]...)
	if c, ok := g.conditional[name]; ok {
		out = append(out, c.targets...)
	}
	if n, ok := g.nodes[name]; ok {
		out = append(out, n.successors...)
	}
	out = slices.DeleteFunc(dedupe(out), func(s string) bool { return s == End })
	return out
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
