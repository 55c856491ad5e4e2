package graph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aescanero/grantflow/internal/application/graph"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ *domain.WorkflowState) (graph.Result, error) {
	return graph.Continue(nil), nil
}

func TestBuild_Valid(t *testing.T) {
	g, err := graph.NewBuilder().
		AddNode("load", noop).
		AddNode("research", noop).
		AddNode("solution", noop).
		AddJoin("merge", noop, []string{"research", "solution"}).
		AddEdge("load", "research").
		AddEdge("load", "solution").
		AddEdge("research", "merge").
		AddEdge("solution", "merge").
		AddEdge("merge", graph.End).
		SetEntry("load").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "load", g.Entry())
	assert.Equal(t, []string{"load", "research", "solution", "merge"}, g.Names())
	assert.Equal(t, []string{"merge"}, g.JoinsFedBy("research"))
	n, ok := g.Node("merge")
	require.True(t, ok)
	assert.True(t, n.IsJoin())
	assert.Equal(t, []string{"research", "solution"}, n.Predecessors())
}

func TestBuild_RejectsUndeclaredTransitions(t *testing.T) {
	tests := []struct {
		name  string
		build func() *graph.Builder
	}{
		{
			name: "missing entry",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop)
			},
		},
		{
			name: "edge to unregistered node",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop).AddEdge("a", "ghost").SetEntry("a")
			},
		},
		{
			name: "conditional target unregistered",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop).
					AddConditionalEdges("a", func(*domain.WorkflowState) []string { return nil }, "ghost").
					SetEntry("a")
			},
		},
		{
			name: "static and conditional edges",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop).AddNode("b", noop).
					AddEdge("a", "b").
					AddConditionalEdges("a", func(*domain.WorkflowState) []string { return nil }, "b").
					SetEntry("a")
			},
		},
		{
			name: "undeclared goto successor",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop, graph.WithSuccessors("ghost")).SetEntry("a")
			},
		},
		{
			name: "join predecessor unregistered",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop).AddJoin("j", noop, []string{"a", "ghost"}).SetEntry("a")
			},
		},
		{
			name: "duplicate node",
			build: func() *graph.Builder {
				return graph.NewBuilder().AddNode("a", noop).AddNode("a", noop).SetEntry("a")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.True(t, errors.Is(err, graph.ErrInvalidGraph))
		})
	}
}

func TestNext_Precedence(t *testing.T) {
	router := func(s *domain.WorkflowState) []string {
		if s.Research.Status == domain.ContentStatusComplete {
			return []string{"b", "c"}
		}
		return []string{"b"}
	}
	g, err := graph.NewBuilder().
		AddNode("a", noop, graph.WithSuccessors("d")).
		AddNode("b", noop).
		AddNode("c", noop).
		AddNode("d", noop).
		AddConditionalEdges("a", router, "b", "c").
		AddEdge("b", "d").
		SetEntry("a").
		Build()
	require.NoError(t, err)

	state := domain.NewWorkflowState()

	next, err := g.Next("a", graph.Continue(nil), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, next)

	state.Research.Status = domain.ContentStatusComplete
	next, err = g.Next("a", graph.Continue(nil), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, next)

	next, err = g.Next("a", graph.Goto(nil, "d", "d"), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, next)

	_, err = g.Next("a", graph.Goto(nil, "c"), state)
	assert.ErrorIs(t, err, domain.ErrUnknownTransition)

	next, err = g.Next("b", graph.Continue(nil), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, next)

	assert.Empty(t, mustNext(t, g, "d", state))
}

func mustNext(t *testing.T, g *graph.Graph, from string, state *domain.WorkflowState) []string {
	t.Helper()
	next, err := g.Next(from, graph.Continue(nil), state)
	require.NoError(t, err)
	return next
}

func TestRoute_RouterOutsideTargets(t *testing.T) {
	g, err := graph.NewBuilder().
		AddNode("a", noop).
		AddNode("b", noop).
		AddNode("c", noop).
		AddConditionalEdges("a", func(*domain.WorkflowState) []string { return []string{"c"} }, "b").
		SetEntry("a").
		Build()
	require.NoError(t, err)

	_, err = g.Route("a", domain.NewWorkflowState())
	assert.ErrorIs(t, err, domain.ErrUnknownTransition)
}

func TestJoinReady(t *testing.T) {
	preds := []string{"A", "B", "C", "D"}
	allowed := true
	b := graph.NewBuilder()
	for _, p := range preds {
		b.AddNode(p, noop).AddEdge(p, "join")
	}
	g, err := b.AddJoin("join", noop, preds, graph.WithReady(func(*domain.WorkflowState) bool { return allowed })).
		SetEntry("A").
		Build()
	require.NoError(t, err)

	state := domain.NewWorkflowState()
	state.Barriers["join"] = []string{"A", "B", "C"}
	assert.False(t, g.JoinReady("join", state))

	state.Barriers["join"] = append(state.Barriers["join"], "D")
	assert.True(t, g.JoinReady("join", state))

	allowed = false
	assert.False(t, g.JoinReady("join", state))

	assert.True(t, g.JoinReady("A", state))
}
