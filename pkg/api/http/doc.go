// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Thread resolution, start and conversation messages
//   - State and checkpoint history queries
//   - Interrupt inspection, review feedback, resume and stale resolution
//   - Asynchronous command dispatch and cancellation
//   - Health checks and Prometheus metrics
package http
