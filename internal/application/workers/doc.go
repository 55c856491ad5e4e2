// Package workers implements the worker pool that executes asynchronous
// thread commands.
//
// The pool subscribes to the thread.commands topic and hands each decoded
// command to a fixed number of goroutines that:
//   - run the command through the orchestrator (start, message, resume)
//   - publish command.failed events for commands that could not run
//
// The health monitor tracks worker status and records it as metrics.
package workers
