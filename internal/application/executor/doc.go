// Package executor drives a workflow graph for one thread at a time.
//
// Each Run loads the thread's latest checkpoint, executes the frontier of
// scheduled nodes concurrently, merges their updates in arrival order through
// the state reducers and persists a checkpoint after every node. Runs stop
// when no successors remain, when a node requests human review, or when the
// per-run step limit is reached.
package executor
