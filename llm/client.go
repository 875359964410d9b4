package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model request to run a tool. Args holds the raw JSON object
// produced by the model.
type ToolCall struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Args       string `json:"args"`
}

// Message is one entry of the conversation sent to a model. A "tool" message
// carries the result of the call identified by ToolCalls[0].
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolSpec describes a tool offered to the model. Parameters is a JSON schema
// object; nil means the tool takes arbitrary arguments.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Stream(ctx context.Context, messages []Message, availableTools []ToolSpec) (Stream, error)
}

// Stream yields the text of one model response as it arrives. Message returns
// the complete response, including tool calls, once Next has returned false
// and Err is nil.
type Stream interface {
	Next() bool
	Delta() string
	Message() *Message
	Err() error
	Close() error
}

// NewClient builds the client for a model identifier such as "openai:gpt-4o".
func NewClient(ctx context.Context, modelID string) (Client, error) {
	provider, name, err := config.ParseModel(modelID)
	if err != nil {
		return nil, err
	}
	switch provider {
	case config.ProviderOpenAI:
		return NewOpenAILLMClient(ctx, name)
	case config.ProviderAnthropic:
		return NewAnthropicLLMClient(ctx, name)
	case config.ProviderGemini:
		return NewGeminiLLMClient(ctx, name)
	case config.ProviderBedrock:
		return NewBedrockLLMClient(ctx, name)
	case config.ProviderTest:
		return NewTestClient(), nil
	}
	return nil, errors.New("unsupported model provider '%s'", provider)
}

// bufferedStream adapts a complete, non-streamed response to Stream by
// delivering its text as a single delta.
type bufferedStream struct {
	msg  *Message
	sent bool
}

func newBufferedStream(msg *Message) *bufferedStream {
	return &bufferedStream{msg: msg}
}

func (s *bufferedStream) Next() bool {
	if s.sent {
		return false
	}
	s.sent = true
	return s.msg.Content != ""
}

func (s *bufferedStream) Delta() string     { return s.msg.Content }
func (s *bufferedStream) Message() *Message { return s.msg }
func (s *bufferedStream) Err() error        { return nil }
func (s *bufferedStream) Close() error      { return nil }

// argsObject decodes tool call arguments into a map. Empty arguments decode to
// an empty map.
func argsObject(args string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(args) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(args), &out); err != nil {
		return nil, errors.Wrapf(err, "tool arguments are not a JSON object")
	}
	return out, nil
}

// schemaProperties returns the "properties" member of a JSON schema, or an
// empty map.
func schemaProperties(schema map[string]any) map[string]any {
	if props, ok := schema["properties"].(map[string]any); ok {
		return props
	}
	return map[string]any{}
}
