package agent

import (
	"context"

	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/llm"
	"github.com/rs/zerolog"
)

// Run is one execution of the agent graph for a prompt:
//
//	UserPrompt -> ModelRequest -> CallTools -> ModelRequest ... -> End
//
// A CallTools node leads back to a model request when it executed tool calls
// and to End otherwise. Runs are not safe for concurrent use.
type Run struct {
	ID string

	agent    *Agent
	prompt   string
	messages []llm.Message
	specs    []llm.ToolSpec
	routes   map[string]Toolset
	logger   zerolog.Logger

	node     Node
	requests int
	output   string
	err      error
	done     bool
}

// Next advances to the next node, first completing the current node if the
// caller did not stream it. It returns false when the run has ended or failed.
func (r *Run) Next(ctx context.Context) bool {
	if r.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.fail(err)
		return false
	}

	next, err := r.advance(ctx)
	if err != nil {
		r.fail(err)
		return false
	}
	if next == nil {
		r.done = true
		return false
	}
	r.node = next
	return true
}

// Node returns the current node.
func (r *Run) Node() Node { return r.node }

// Err returns the error that stopped the run, if any.
func (r *Run) Err() error { return r.err }

// Output is the final model text, set once the End node has been reached.
func (r *Run) Output() string { return r.output }

// Messages returns the conversation accumulated so far.
func (r *Run) Messages() []llm.Message {
	return append([]llm.Message(nil), r.messages...)
}

// Close releases the stream of the current node. The run cannot be advanced
// afterwards.
func (r *Run) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	return r.closeStream()
}

func (r *Run) advance(ctx context.Context) (Node, error) {
	switch n := r.node.(type) {
	case nil:
		r.messages = append(r.messages, llm.Message{Role: llm.RoleUser, Content: r.prompt})
		return &UserPromptNode{Prompt: r.prompt}, nil
	case *UserPromptNode:
		return r.modelRequest()
	case *ModelRequestNode:
		if err := n.complete(ctx); err != nil {
			return nil, err
		}
		return &CallToolsNode{run: r, response: n.response}, nil
	case *CallToolsNode:
		if err := n.complete(ctx); err != nil {
			return nil, err
		}
		if len(n.response.ToolCalls) > 0 {
			return r.modelRequest()
		}
		r.output = n.response.Content
		r.logger.Debug().Int("requests", r.requests).Msg("run finished")
		return &EndNode{Output: r.output}, nil
	case *EndNode:
		return nil, nil
	}
	return nil, errors.New("unexpected node %T", r.node)
}

func (r *Run) modelRequest() (Node, error) {
	if r.requests >= r.agent.maxRequests {
		return nil, errors.Wrapf(ErrRequestLimit, "run needed more than %d model requests", r.agent.maxRequests)
	}
	r.requests++
	r.logger.Debug().Int("request", r.requests).Int("messages", len(r.messages)).Msg("model request")
	return &ModelRequestNode{run: r}, nil
}

// callTool routes a call to the toolset that offers it. An unknown tool
// produces an error result for the model; only failures of the toolset itself
// are returned as errors.
func (r *Run) callTool(ctx context.Context, call llm.ToolCall) (*ToolResult, error) {
	logger := r.logger.With().Str("tool", call.Name).Str("call_id", call.ToolCallID).Logger()

	ts, ok := r.routes[call.Name]
	if !ok {
		logger.Warn().Msg("model requested an unknown tool")
		res := TextResult("Unknown tool name: '" + call.Name + "'. " + r.toolNamesHint())
		res.IsError = true
		return res, nil
	}

	logger.Debug().Str("args", call.Args).Msg("calling tool")
	res, err := ts.Call(ctx, call.Name, call.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "tool '%s' failed", call.Name)
	}
	if res == nil {
		res = &ToolResult{}
	}
	logger.Debug().Bool("is_error", res.IsError).Msg("tool returned")
	return res, nil
}

func (r *Run) toolNamesHint() string {
	if len(r.specs) == 0 {
		return "No tools available."
	}
	hint := "Available tools: "
	for i, spec := range r.specs {
		if i > 0 {
			hint += ", "
		}
		hint += spec.Name
	}
	return hint
}

func (r *Run) fail(err error) {
	r.err = err
	r.done = true
	r.logger.Debug().Err(err).Msg("run failed")
	r.closeStream()
}

// closeStream releases the model stream of the current node, if one is open.
func (r *Run) closeStream() error {
	if n, ok := r.node.(*ModelRequestNode); ok && n.stream != nil {
		return n.stream.Close()
	}
	return nil
}
