package domain

import "time"

// EventType identifies thread lifecycle events.
type EventType string

const (
	EventCheckpointSaved   EventType = "checkpoint.saved"
	EventThreadInterrupted EventType = "thread.interrupted"
	EventThreadResumed     EventType = "thread.resumed"
	EventThreadCompleted   EventType = "thread.completed"
	EventThreadFailed      EventType = "thread.failed"
	EventThreadPaused      EventType = "thread.paused"
	EventNodeFailed        EventType = "node.failed"
	EventCommandFailed     EventType = "command.failed"
)

// Topics used on the event bus.
const (
	TopicThreadEvents   = "thread.events"
	TopicThreadCommands = "thread.commands"
)

// Event is published on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	ThreadID  string         `json:"thread_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// CommandType identifies asynchronous thread commands.
type CommandType string

const (
	CommandStart   CommandType = "start"
	CommandMessage CommandType = "message"
	CommandResume  CommandType = "resume"
)

// Command asks a worker to drive a thread.
type Command struct {
	ID       string         `json:"id"`
	Type     CommandType    `json:"type"`
	ThreadID string         `json:"thread_id"`
	Input    *Update        `json:"input,omitempty"`
	Message  *Message       `json:"message,omitempty"`
	Issued   time.Time      `json:"issued"`
	Data     map[string]any `json:"data,omitempty"`
}
