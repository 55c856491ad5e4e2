package graph

import (
	"slices"
	"sort"
)

// DependencyMap maps an entity to the entities that consume its output.
type DependencyMap struct {
	dependents map[string][]string
}

// NewDependencyMap creates an empty map.
func NewDependencyMap() *DependencyMap {
	return &DependencyMap{dependents: make(map[string][]string)}
}

// FromGraph derives a dependency map from every declared transition of g.
func FromGraph(g *Graph) *DependencyMap {
	m := NewDependencyMap()
	for _, name := range g.order {
		m.Add(name, g.Successors(name)...)
	}
	for join, n := range g.nodes {
		for _, p := range n.predecessors {
			m.Add(p, join)
		}
	}
	return m
}

// FromDependsOn builds a map from "X depends on Y" declarations.
func FromDependsOn(dependsOn map[string][]string) *DependencyMap {
	m := NewDependencyMap()
	for entity, upstream := range dependsOn {
		for _, u := range upstream {
			m.Add(u, entity)
		}
	}
	return m
}

// Add records that dependents consume key.
func (m *DependencyMap) Add(key string, dependents ...string) {
	for _, d := range dependents {
		if d == key || slices.Contains(m.dependents[key], d) {
			continue
		}
		m.dependents[key] = append(m.dependents[key], d)
	}
}

// Dependents returns the direct dependents of key.
func (m *DependencyMap) Dependents(key string) []string {
	out := append([]string(nil), m.dependents[key]...)
	sort.Strings(out)
	return out
}

// Downstream returns every entity that transitively depends on key, in
// breadth-first order with siblings sorted. key itself is never included.
func (m *DependencyMap) Downstream(key string) []string {
	visited := map[string]bool{key: true}
	var out []string
	queue := []string{key}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, d := range m.Dependents(current) {
			if visited[d] {
				continue
			}
			visited[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	return out
}
