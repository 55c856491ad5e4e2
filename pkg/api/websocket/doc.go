// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/threads/:id/ws to receive checkpoint, interrupt
// and completion events of a thread as they are published.
package websocket
