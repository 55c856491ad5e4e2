// Package storage provides checkpoint store implementations and the wrappers
// the engine puts in front of them.
//
// Implementations:
//   - redis: Redis hashes with a per-thread sequence index and optional TTL
//   - postgres: a checkpoints table managed by embedded migrations
//   - memory: volatile, used for tests and as the startup fallback
//
// Retrying adds bounded exponential backoff with jitter; Open selects the
// durable backend or falls back to memory when it is unreachable.
package storage
