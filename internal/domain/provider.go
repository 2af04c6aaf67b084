package domain

import "context"

// ToolCallDelta is a partial tool call. The first delta for an Index carries
// ID and Name; continuations carry only an Arguments chunk.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamFragment is one incremental unit of a streamed model turn.
// A fragment with a non-nil Err terminates the stream with a transport
// failure; closing the channel marks a clean end of stream.
type StreamFragment struct {
	Text     string         `json:"text,omitempty"`
	ToolCall *ToolCallDelta `json:"tool_call,omitempty"`
	Usage    *Usage         `json:"usage,omitempty"`
	Err      error          `json:"-"`
}

// LLMProvider is the interface for any streaming LLM backend.
type LLMProvider interface {
	// ChatStream sends a request and returns a channel of stream fragments.
	// An error is returned only when the stream could not be opened.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamFragment, error)
	// Name returns the provider's identifier (e.g., "openai", "bedrock").
	Name() string
}
