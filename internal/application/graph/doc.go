// Package graph declares workflow graphs: the node registry, unconditional and
// conditional edges, routing directives, synchronization joins and the static
// dependency map used for stale-content invalidation.
//
// A Graph is immutable once built. Every transition a node or router can take
// is declared up front and validated by Builder.Build, so the executor only
// ever follows edges that were registered.
package graph
