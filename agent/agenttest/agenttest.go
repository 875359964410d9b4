// Package agenttest provides fakes for the collaborators of an agent run.
package agenttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ianrichard/agentservice/agent"
	"github.com/ianrichard/agentservice/llm"
)

// CallFunc answers a tool call.
type CallFunc func(ctx context.Context, name, argsJSON string) (*agent.ToolResult, error)

// Toolset is an in-process agent.Toolset. It records the calls it receives and
// how often it was started and closed.
type Toolset struct {
	Specs    []llm.ToolSpec
	Handler  CallFunc
	StartErr error
	CloseErr error

	mu      sync.Mutex
	starts  int
	closes  int
	calls   []Call
	running bool
}

// Call is one recorded tool call.
type Call struct {
	Name string
	Args string
}

// NewToolset returns a toolset offering one tool per name. Every call is
// answered by handler.
func NewToolset(handler CallFunc, names ...string) *Toolset {
	ts := &Toolset{Handler: handler}
	for _, name := range names {
		ts.Specs = append(ts.Specs, llm.ToolSpec{
			Name:        name,
			Description: "fake " + name,
			Parameters:  map[string]any{"type": "object"},
		})
	}
	return ts
}

func (t *Toolset) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	if t.StartErr != nil {
		return t.StartErr
	}
	t.running = true
	return nil
}

func (t *Toolset) Tools() []llm.ToolSpec {
	return t.Specs
}

func (t *Toolset) Call(ctx context.Context, name, argsJSON string) (*agent.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, Call{Name: name, Args: argsJSON})
	t.mu.Unlock()
	if t.Handler == nil {
		return agent.TextResult(""), nil
	}
	return t.Handler(ctx, name, argsJSON)
}

func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	t.running = false
	return t.CloseErr
}

// Starts reports how many times Start was called.
func (t *Toolset) Starts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts
}

// Closes reports how many times Close was called.
func (t *Toolset) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Running reports whether the toolset was started and not closed since.
func (t *Toolset) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Calls returns the recorded calls in order.
func (t *Toolset) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Reply answers every call with the same text.
func Reply(text string) CallFunc {
	return func(context.Context, string, string) (*agent.ToolResult, error) {
		return agent.TextResult(text), nil
	}
}

// Fail makes every call fail with err, as a broken tool-server transport would.
func Fail(err error) CallFunc {
	return func(context.Context, string, string) (*agent.ToolResult, error) {
		return nil, err
	}
}

// ToolCallReply is a scripted model reply requesting the given tool calls.
// Each call is a name followed by its JSON arguments.
func ToolCallReply(text string, nameArgs ...string) llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant, Content: text}
	for i := 0; i+1 < len(nameArgs); i += 2 {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ToolCallID: fmt.Sprintf("call_%d", len(msg.ToolCalls)+1),
			Name:       nameArgs[i],
			Args:       nameArgs[i+1],
		})
	}
	return msg
}

// TextReply is a scripted model reply with text only.
func TextReply(text string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: text}
}

// Model is an llm.Client whose every stream yields exactly Deltas, empty ones
// included, and then a reply holding their concatenation.
type Model struct {
	Deltas []string
}

func (m Model) Stream(ctx context.Context, messages []llm.Message, availableTools []llm.ToolSpec) (llm.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &deltaStream{deltas: m.Deltas}, nil
}

type deltaStream struct {
	deltas []string
	pos    int
}

func (s *deltaStream) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.pos++
	return true
}

func (s *deltaStream) Delta() string { return s.deltas[s.pos-1] }

func (s *deltaStream) Message() *llm.Message {
	return &llm.Message{Role: llm.RoleAssistant, Content: strings.Join(s.deltas, "")}
}

func (s *deltaStream) Err() error   { return nil }
func (s *deltaStream) Close() error { return nil }
