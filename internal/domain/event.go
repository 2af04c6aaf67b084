package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AgentEventType identifies an event emitted by the agent loop.
type AgentEventType string

const (
	AgentTextChunk        AgentEventType = "text_chunk"
	AgentToolCallStarted  AgentEventType = "tool_call_started"
	AgentToolCallFinished AgentEventType = "tool_call_finished"
	AgentTurnCompleted    AgentEventType = "turn_completed"
	AgentLoopFinished     AgentEventType = "loop_finished"
	AgentLoopError        AgentEventType = "loop_error"
)

// AgentEvent is the uniform unit the agent loop emits while it runs. It is
// the only thing a protocol encoder sees of a run.
type AgentEvent struct {
	Type      AgentEventType
	Iteration int

	// TextChunk
	Text string

	// ToolCallStarted / ToolCallFinished
	CallID    string
	ToolName  string
	Arguments string
	Result    *ToolResult

	// LoopError
	ErrKind ErrorKind
	Detail  string
}

// Terminal reports whether e ends the event sequence of a run.
func (e AgentEvent) Terminal() bool {
	return e.Type == AgentLoopFinished || e.Type == AgentLoopError
}

// AgentEventSink receives agent events in emission order.
type AgentEventSink func(AgentEvent)

// EventType identifies the kind of lifecycle event published on the bus.
type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventRunFinished      EventType = "run.finished"
	EventRunFailed        EventType = "run.failed"
	EventToolCallFinished EventType = "tool.call.finished"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RunFailedPayload is the payload for EventRunFailed events.
type RunFailedPayload struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// ToolCallFinishedPayload is the payload for EventToolCallFinished events.
type ToolCallFinishedPayload struct {
	CallID   string        `json:"call_id"`
	Tool     string        `json:"tool"`
	IsError  bool          `json:"is_error"`
	Kind     ErrorKind     `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for lifecycle events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for the given event types, or for every
	// event when no type is given. Returns an unsubscribe function.
	Subscribe(handler EventHandler, types ...EventType) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
