// Package domain defines the workflow state, its channel reducers, checkpoints
// and the error taxonomy shared by every component of the engine.
//
// WorkflowState is never mutated directly by nodes. Nodes return an Update and
// the executor merges it with Apply, which dispatches each written field to the
// reducer of its channel.
package domain
