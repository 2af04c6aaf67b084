package domain

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWithToolCallsJSON(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call-1", Name: "get_weather", Arguments: `{"location":"Beijing"}`},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"role": "assistant",
		"content": "",
		"tool_calls": [{"id": "call-1", "name": "get_weather", "arguments": "{\"location\":\"Beijing\"}"}]
	}`, string(data))
}

func TestToolMessageJSON(t *testing.T) {
	msg := Message{Role: RoleTool, Content: "sunny", ToolCallID: "call-1"}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, msg, got)
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	assert.Equal(t, Usage{PromptTokens: 13, CompletionTokens: 7, TotalTokens: 20}, u)
}

func TestAgentEventTerminal(t *testing.T) {
	assert.True(t, AgentEvent{Type: AgentLoopFinished}.Terminal())
	assert.True(t, AgentEvent{Type: AgentLoopError}.Terminal())
	assert.False(t, AgentEvent{Type: AgentTurnCompleted}.Terminal())
	assert.False(t, AgentEvent{Type: AgentToolCallFinished}.Terminal())
}

func TestSkillLocation(t *testing.T) {
	s := Skill{Name: "pdf", Dir: filepath.Join("/srv", "skills", "pdf")}
	assert.Equal(t, filepath.Join("/srv", "skills", "pdf", "SKILL.md"), s.Location())
}
