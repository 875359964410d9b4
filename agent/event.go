package agent

import "github.com/ianrichard/agentservice/llm"

// Event is produced while a node is streamed. The concrete types are
// TextDelta, ToolCallRequested, ToolResultReceived and ResponseComplete.
type Event interface {
	isEvent()
}

// TextDelta is a piece of model text.
type TextDelta struct {
	Content string
}

// ToolCallRequested reports that the model asked for a tool. Args is the raw
// JSON arguments object as the model produced it.
type ToolCallRequested struct {
	CallID   string
	ToolName string
	Args     string
}

// ToolResultReceived carries the result of a tool call.
type ToolResultReceived struct {
	CallID   string
	ToolName string
	Result   ToolResult
}

// ResponseComplete ends a model request stream with the full response.
type ResponseComplete struct {
	Message llm.Message
}

func (TextDelta) isEvent()          {}
func (ToolCallRequested) isEvent()  {}
func (ToolResultReceived) isEvent() {}
func (ResponseComplete) isEvent()   {}

// EventStream iterates the events of one node:
//
//	for s.Next() {
//		switch ev := s.Event().(type) { ... }
//	}
//	if err := s.Err(); err != nil { ... }
type EventStream interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}
