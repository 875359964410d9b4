package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a calculator."},
		{Role: RoleUser, Content: "Hello, world!"},
		{Role: RoleAssistant, Content: "Hello! How can I help you?"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ToolCallID: "call_1",
				Name:       "calculate",
				Args:       `{"expression":"2+2"}`,
			}},
		},
		{
			Role:      RoleTool,
			Content:   "4",
			ToolCalls: []ToolCall{{ToolCallID: "call_1", Name: "calculate"}},
		},
	}

	result, system, err := convertMessagesToAnthropicFormat(messages)
	require.NoError(t, err)
	assert.Equal(t, "You are a calculator.", system)
	require.Len(t, result, 4)

	assert.Equal(t, "user", result[0]["role"])
	assert.Equal(t, "assistant", result[1]["role"])

	toolUse := result[2]["content"].([]map[string]interface{})[0]
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, map[string]any{"expression": "2+2"}, toolUse["input"])

	assert.Equal(t, "user", result[3]["role"])
	toolResult := result[3]["content"].([]map[string]interface{})[0]
	assert.Equal(t, "call_1", toolResult["tool_use_id"])
}

func TestConvertMessagesToAnthropicFormatRejectsBadArgs(t *testing.T) {
	_, _, err := convertMessagesToAnthropicFormat([]Message{{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ToolCallID: "x", Name: "calculate", Args: "not json"}},
	}})
	assert.Error(t, err)
}

func TestCreateAnthropicRequest(t *testing.T) {
	messages := []map[string]interface{}{
		{
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Hello!"},
			},
		},
	}

	body, err := createAnthropicRequest(messages, "", nil)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotContains(t, decoded, "tools")
	assert.NotContains(t, decoded, "system")

	tools := []ToolSpec{{
		Name:        "calculate",
		Description: "Evaluates an arithmetic expression.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"expression": map[string]any{"type": "string"}},
		},
	}}
	body, err = createAnthropicRequest(messages, "be brief", tools)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "be brief", decoded["system"])
	require.Len(t, decoded["tools"], 1)
}

func TestProcessBedrockResponse(t *testing.T) {
	body := []byte(`{"content":[
		{"type":"text","text":"Let me compute. "},
		{"type":"tool_use","id":"toolu_1","name":"calculate","input":{"expression":"2+2"}},
		{"type":"tool_use","name":"list_files","input":{}}
	]}`)

	msg, err := processBedrockResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "Let me compute. ", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ToolCallID)
	assert.JSONEq(t, `{"expression":"2+2"}`, msg.ToolCalls[0].Args)
	assert.Equal(t, "call_1_list_files", msg.ToolCalls[1].ToolCallID)
	assert.Equal(t, "{}", msg.ToolCalls[1].Args)

	_, err = processBedrockResponse([]byte(`{"error":"throttled"}`))
	assert.Error(t, err)
}

func TestBufferedStream(t *testing.T) {
	s := newBufferedStream(&Message{Role: RoleAssistant, Content: "4"})
	require.True(t, s.Next())
	assert.Equal(t, "4", s.Delta())
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
	assert.Equal(t, "4", s.Message().Content)

	empty := newBufferedStream(&Message{Role: RoleAssistant})
	assert.False(t, empty.Next())
}
