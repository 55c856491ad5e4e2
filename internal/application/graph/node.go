package graph

import (
	"context"

	"github.com/aescanero/grantflow/pkg/domain"
)

// End terminates the branch that routes to it.
const End = "__end__"

// Result is what a node returns: a partial state update and, optionally, a
// routing directive that overrides the node's declared edges.
type Result struct {
	Update *domain.Update
	Goto   []string
}

// Continue returns a result that follows the declared edges.
func Continue(update *domain.Update) Result {
	return Result{Update: update}
}

// Goto returns a result that routes to targets regardless of declared edges.
// Targets must be declared with WithSuccessors.
func Goto(update *domain.Update, targets ...string) Result {
	return Result{Update: update, Goto: targets}
}

// NodeFunc is the unit of work executed by the engine. It receives a private
// copy of the state and must not retain it.
type NodeFunc func(ctx context.Context, state *domain.WorkflowState) (Result, error)

// RouterFunc selects the next node(s) from the state. It must be
// deterministic and free of side effects.
type RouterFunc func(state *domain.WorkflowState) []string

// ReadyFunc is an additional readiness check on a join.
type ReadyFunc func(state *domain.WorkflowState) bool

// Node is a registered unit of work.
type Node struct {
	Name string
	Fn   NodeFunc

	successors   []string
	predecessors []string
	ready        ReadyFunc
	join         bool
}

// IsJoin reports whether the node is a synchronization join.
func (n *Node) IsJoin() bool { return n.join }

// Predecessors returns the predecessor set of a join.
func (n *Node) Predecessors() []string {
	return append([]string(nil), n.predecessors...)
}

// NodeOption configures a node at registration.
type NodeOption func(*Node)

// WithSuccessors declares the targets a node may jump to with Goto.
func WithSuccessors(names ...string) NodeOption {
	return func(n *Node) {
		n.successors = append(n.successors, names...)
	}
}

// WithReady adds a readiness check evaluated after all predecessors of a join
// have completed.
func WithReady(fn ReadyFunc) NodeOption {
	return func(n *Node) {
		n.ready = fn
	}
}
