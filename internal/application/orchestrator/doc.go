// Package orchestrator implements the thread-lifecycle facade of the engine.
//
// The orchestrator manager coordinates proposal threads by:
//   - Deriving stable thread ids from owner and subject keys
//   - Starting threads and appending user messages through the executor
//   - Exposing checkpoint history and the human-review operations
//   - Dispatching asynchronous commands to workers over the event bus
//
// The validator rejects malformed keys, inputs, messages and commands before
// they reach the executor.
package orchestrator
