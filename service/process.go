package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ianrichard/agentservice/agent"
	"github.com/ianrichard/agentservice/errors"
)

// ProcessInput runs the agent for one user turn. It always returns a
// response; failures, including panics raised by callbacks, are reported in
// Response.Error alongside whatever was collected before them.
//
// AssistantContent holds the text of the last model request of the run only.
func (s *Service) ProcessInput(ctx context.Context, userInput string, history []any, cb Callbacks) (resp *Response) {
	resp = newResponse()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("panic while processing input")
			resp.Error = fmt.Sprint(r)
		}
	}()

	if strings.TrimSpace(userInput) == "" {
		resp.Error = "user input is empty"
		return resp
	}
	s.logger.Info().Str("input", truncate(userInput, 50)).Int("history", len(history)).Msg("processing input")

	if err := s.process(ctx, userInput, history, cb, resp); err != nil {
		s.logger.Error().Err(err).Msg("error processing input")
		resp.Error = err.Error()
	}
	return resp
}

func (s *Service) process(ctx context.Context, userInput string, history []any, cb Callbacks, resp *Response) error {
	prompt, err := BuildPrompt(userInput, history)
	if err != nil {
		return err
	}

	run, err := s.runtime.Iter(ctx, prompt)
	if err != nil {
		return errors.Wrapf(err, "failed to start agent run")
	}
	defer run.Close()

	for run.Next(ctx) {
		switch node := run.Node().(type) {
		case *agent.ModelRequestNode:
			err = s.handleModelRequest(ctx, node, cb, resp)
		case *agent.CallToolsNode:
			err = s.handleToolCalls(ctx, node, cb, resp)
		}
		if err != nil {
			return err
		}
	}
	return run.Err()
}

func (s *Service) handleModelRequest(ctx context.Context, node *agent.ModelRequestNode, cb Callbacks, resp *Response) error {
	stream, err := node.Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	var collected strings.Builder
	for stream.Next() {
		ev := stream.Event()
		s.logger.Debug().Str("event", fmt.Sprintf("%T", ev)).Msg("model event")
		if delta, ok := ev.(agent.TextDelta); ok && delta.Content != "" {
			collected.WriteString(delta.Content)
			cb.assistantMessage(delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		if collected.Len() > 0 {
			resp.AssistantContent = collected.String()
		}
		return err
	}
	resp.AssistantContent = collected.String()
	return nil
}

func (s *Service) handleToolCalls(ctx context.Context, node *agent.CallToolsNode, cb Callbacks, resp *Response) error {
	stream, err := node.Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Next() {
		ev := stream.Event()
		s.logger.Debug().Str("event", fmt.Sprintf("%T", ev)).Msg("tool event")
		switch ev := ev.(type) {
		case agent.ToolCallRequested:
			if args := strings.TrimSpace(ev.Args); args == "" || args == "{}" {
				continue
			}
			call := ToolCall{ToolName: ev.ToolName, Args: ev.Args}
			resp.ToolCalls = append(resp.ToolCalls, call)
			cb.toolCall(call)
		case agent.ToolResultReceived:
			// A result without a text segment still counts as one result.
			result := ev.Result.Text()
			resp.ToolResults = append(resp.ToolResults, result)
			cb.toolResult(result)
		}
	}
	return stream.Err()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
