package service

// ToolCall is a tool invocation requested by the model. Args is the JSON
// arguments object as the model produced it.
type ToolCall struct {
	ToolName string `json:"tool_name"`
	Args     string `json:"args"`
}

// Response collects what happened during one ProcessInput call. Error is set
// when the call failed; the other fields then hold what was collected before
// the failure.
type Response struct {
	AssistantContent string     `json:"assistant_content"`
	ToolCalls        []ToolCall `json:"tool_calls"`
	ToolResults      []string   `json:"tool_results"`
	Error            string     `json:"error,omitempty"`
}

func newResponse() *Response {
	return &Response{ToolCalls: []ToolCall{}, ToolResults: []string{}}
}

// Callbacks receive events synchronously, in the order they occur. Nil
// fields are skipped.
type Callbacks struct {
	OnAssistantMessage func(delta string)
	OnToolCall         func(call ToolCall)
	OnToolResult       func(result string)
}

func (cb Callbacks) assistantMessage(delta string) {
	if cb.OnAssistantMessage != nil {
		cb.OnAssistantMessage(delta)
	}
}

func (cb Callbacks) toolCall(call ToolCall) {
	if cb.OnToolCall != nil {
		cb.OnToolCall(call)
	}
}

func (cb Callbacks) toolResult(result string) {
	if cb.OnToolResult != nil {
		cb.OnToolResult(result)
	}
}
