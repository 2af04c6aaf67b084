// Package agui translates agent loop events into the AG-UI wire protocol.
package agui

// EventType is the AG-UI "type" discriminator.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStarted    EventType = "TOOL_CALL_STARTED"
	EventToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
)

// Roles carried on message-scoped events.
const (
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Event is one AG-UI wire event. Empty fields are omitted when encoded.
type Event struct {
	Type         EventType      `json:"type"`
	ThreadID     string         `json:"threadId,omitempty"`
	RunID        string         `json:"runId,omitempty"`
	ParentRunID  string         `json:"parentRunId,omitempty"`
	MessageID    string         `json:"messageId,omitempty"`
	Role         string         `json:"role,omitempty"`
	Delta        string         `json:"delta,omitempty"`
	ToolCallID   string         `json:"toolCallId,omitempty"`
	ToolCallName string         `json:"toolCallName,omitempty"`
	Arguments    string         `json:"arguments,omitempty"`
	Content      *string        `json:"content,omitempty"`
	Code         string         `json:"code,omitempty"`
	Message      string         `json:"message,omitempty"`
	Input        *RunAgentInput `json:"input,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"`
}

// Terminal reports whether the event ends the run.
func (e Event) Terminal() bool {
	return e.Type == EventRunFinished || e.Type == EventRunError
}
