package agui

import (
	"encoding/json"
	"fmt"

	"skillagent/internal/domain"
)

// RunAgentInput is the AG-UI request body.
type RunAgentInput struct {
	ThreadID       string          `json:"threadId"`
	RunID          string          `json:"runId"`
	ParentRunID    string          `json:"parentRunId,omitempty"`
	Messages       []InputMessage  `json:"messages"`
	Tools          []InputTool     `json:"tools"`
	Context        []InputContext  `json:"context"`
	State          json.RawMessage `json:"state,omitempty"`
	ForwardedProps json.RawMessage `json:"forwardedProps,omitempty"`
}

// InputMessage is one message of the AG-UI conversation history.
type InputMessage struct {
	ID         string          `json:"id,omitempty"`
	Role       string          `json:"role"`
	Content    *string         `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []InputToolCall `json:"toolCalls,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
}

// InputToolCall is an assistant tool call in the history.
type InputToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names a function and its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// InputTool is a front-end declared tool.
type InputTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// InputContext is a piece of front-end supplied context.
type InputContext struct {
	Description string `json:"description"`
	Value       string `json:"value"`
}

// ToMessages converts the AG-UI history into the agent's conversation
// prefix. "developer" messages are treated as system messages; context
// entries are appended to the leading system message, creating one if the
// history has none.
func (in RunAgentInput) ToMessages() ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(in.Messages)+1)
	for i, m := range in.Messages {
		msg := domain.Message{
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Content != nil {
			msg.Content = *m.Content
		}

		switch m.Role {
		case "system", "developer":
			msg.Role = domain.RoleSystem
		case "user":
			msg.Role = domain.RoleUser
		case "assistant":
			msg.Role = domain.RoleAssistant
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		case "tool":
			msg.Role = domain.RoleTool
			if m.ToolCallID == "" {
				return nil, fmt.Errorf("message %d: tool message without toolCallId", i)
			}
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
		out = append(out, msg)
	}

	if ctx := in.contextBlock(); ctx != "" {
		if len(out) > 0 && out[0].Role == domain.RoleSystem {
			out[0].Content += "\n\n" + ctx
		} else {
			out = append([]domain.Message{{Role: domain.RoleSystem, Content: ctx}}, out...)
		}
	}
	return out, nil
}

func (in RunAgentInput) contextBlock() string {
	if len(in.Context) == 0 {
		return ""
	}
	s := "Context provided by the client:"
	for _, c := range in.Context {
		s += fmt.Sprintf("\n- %s: %s", c.Description, c.Value)
	}
	return s
}
