// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups, used to fan thread commands
//     out to workers across processes
//   - memory: in-process delivery for single-node runs and tests
package events
