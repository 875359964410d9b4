package agent

import (
	"context"

	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/llm"
)

var (
	errAlreadyStreamed = errors.Sentinel("node has already been streamed")
	errStreamClosed    = errors.Sentinel("node stream closed before completion")
)

// Node is one step of a run. The concrete types are *UserPromptNode,
// *ModelRequestNode, *CallToolsNode and *EndNode.
type Node interface {
	isNode()
}

// UserPromptNode starts every run.
type UserPromptNode struct {
	Prompt string
}

// ModelRequestNode sends the conversation to the model. Its events are
// TextDelta values followed by one ResponseComplete.
type ModelRequestNode struct {
	run      *Run
	stream   *modelStream
	response *llm.Message
	done     bool
	err      error
}

// CallToolsNode executes the tool calls of the preceding model response. Its
// events are a ToolCallRequested and a ToolResultReceived per call.
type CallToolsNode struct {
	run      *Run
	response *llm.Message
	stream   *toolStream
	done     bool
	err      error
}

// EndNode ends a run with the final model text.
type EndNode struct {
	Output string
}

func (*UserPromptNode) isNode()   {}
func (*ModelRequestNode) isNode() {}
func (*CallToolsNode) isNode()    {}
func (*EndNode) isNode()          {}

// Stream sends the model request and returns its events. A node can be
// streamed once.
func (n *ModelRequestNode) Stream(ctx context.Context) (EventStream, error) {
	if n.stream != nil || n.done {
		return nil, errAlreadyStreamed
	}
	r := n.run
	src, err := r.agent.model.Stream(ctx, r.messages, r.specs)
	if err != nil {
		n.finish(nil, errors.Wrapf(err, "model request failed"))
		return nil, n.err
	}
	n.stream = &modelStream{node: n, src: src}
	return n.stream, nil
}

// Response is the model response, available once the node has completed.
func (n *ModelRequestNode) Response() *llm.Message {
	return n.response
}

func (n *ModelRequestNode) finish(msg *llm.Message, err error) {
	n.done = true
	n.err = err
	if err != nil {
		return
	}
	n.response = msg
	n.run.messages = append(n.run.messages, *msg)
}

// complete runs the node to the end when the caller did not stream it fully.
func (n *ModelRequestNode) complete(ctx context.Context) error {
	if !n.done {
		if n.stream == nil {
			if _, err := n.Stream(ctx); err != nil {
				return err
			}
		}
		drain(n.stream)
	}
	if n.stream != nil {
		n.stream.Close()
	}
	return n.err
}

type modelStream struct {
	node   *ModelRequestNode
	src    llm.Stream
	ev     Event
	err    error
	done   bool
	closed bool
}

func (s *modelStream) Next() bool {
	if s.done {
		return false
	}
	for s.src.Next() {
		if delta := s.src.Delta(); delta != "" {
			s.ev = TextDelta{Content: delta}
			return true
		}
	}

	s.done = true
	msg, err := s.src.Message(), s.src.Err()
	if err == nil && msg == nil {
		err = errors.New("model stream ended without a response")
	}
	if err != nil {
		s.err = errors.Wrapf(err, "model response stream failed")
		s.node.finish(nil, s.err)
		return false
	}
	s.node.finish(msg, nil)
	s.ev = ResponseComplete{Message: *msg}
	return true
}

func (s *modelStream) Event() Event { return s.ev }
func (s *modelStream) Err() error   { return s.err }

// Close releases the model stream. Closing before the last event fails the node.
func (s *modelStream) Close() error {
	if !s.done {
		s.done = true
		s.err = errStreamClosed
		s.node.finish(nil, s.err)
	}
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}

// Stream executes the tool calls one by one and returns their events. A node
// can be streamed once.
func (n *CallToolsNode) Stream(ctx context.Context) (EventStream, error) {
	if n.stream != nil || n.done {
		return nil, errAlreadyStreamed
	}
	n.stream = &toolStream{ctx: ctx, node: n}
	return n.stream, nil
}

// ToolCalls lists the calls this node executes.
func (n *CallToolsNode) ToolCalls() []llm.ToolCall {
	return n.response.ToolCalls
}

func (n *CallToolsNode) complete(ctx context.Context) error {
	if !n.done {
		if n.stream == nil {
			if _, err := n.Stream(ctx); err != nil {
				return err
			}
		}
		drain(n.stream)
	}
	return n.err
}

type toolStream struct {
	ctx  context.Context
	node *CallToolsNode
	pos  int
	// call is the requested call whose result is the next event.
	call *llm.ToolCall
	ev   Event
	err  error
	done bool
}

func (s *toolStream) Next() bool {
	if s.done {
		return false
	}

	if call := s.call; call != nil {
		s.call = nil
		result, err := s.node.run.callTool(s.ctx, *call)
		if err != nil {
			s.finish(err)
			return false
		}
		s.node.run.messages = append(s.node.run.messages, llm.Message{
			Role:      llm.RoleTool,
			Content:   result.modelText(),
			ToolCalls: []llm.ToolCall{*call},
		})
		s.ev = ToolResultReceived{CallID: call.ToolCallID, ToolName: call.Name, Result: *result}
		return true
	}

	calls := s.node.response.ToolCalls
	if s.pos >= len(calls) {
		s.finish(nil)
		return false
	}
	call := calls[s.pos]
	s.pos++
	s.call = &call
	s.ev = ToolCallRequested{CallID: call.ToolCallID, ToolName: call.Name, Args: call.Args}
	return true
}

func (s *toolStream) finish(err error) {
	s.done = true
	s.err = err
	s.node.done = true
	s.node.err = err
}

func (s *toolStream) Event() Event { return s.ev }
func (s *toolStream) Err() error   { return s.err }

// Close stops executing tool calls. Closing before the last event fails the node.
func (s *toolStream) Close() error {
	if !s.done {
		s.finish(errStreamClosed)
	}
	return nil
}

func drain(s EventStream) {
	for s.Next() {
	}
}
