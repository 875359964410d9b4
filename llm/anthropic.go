package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ianrichard/agentservice/errors"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

// Stream starts a streamed message request.
func (a *AnthropicLLMClient) Stream(ctx context.Context, messages []Message, availableTools []ToolSpec) (Stream, error) {
	anthropicMessages, systemPrompt, err := convertMessagesToAnthropicMessages(messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	anthropicTools := convertToolsToAnthropicTools(availableTools)
	params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
	for i := range anthropicTools {
		params.Tools[i] = anthropic.ToolUnionParam{OfTool: &anthropicTools[i]}
	}

	return &anthropicStream{stream: a.client.Messages.NewStreaming(ctx, params)}, nil
}

type anthropicStream struct {
	stream sseStream[anthropic.MessageStreamEventUnion]
	acc    anthropic.Message
	delta  string
	err    error
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		event := s.stream.Current()
		if err := s.acc.Accumulate(event); err != nil {
			s.err = errors.Wrapf(err, "failed to accumulate Anthropic stream event")
			return false
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				s.delta = text.Text
				return true
			}
		}
	}
	return false
}

func (s *anthropicStream) Delta() string { return s.delta }

func (s *anthropicStream) Message() *Message {
	msg, err := processAnthropicResponse(&s.acc)
	if err != nil {
		s.err = err
		return nil
	}
	return msg
}

func (s *anthropicStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return errors.Wrapf(s.stream.Err(), "Anthropic stream failed")
}

func (s *anthropicStream) Close() error { return s.stream.Close() }

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []Message) ([]anthropic.MessageParam, string, error) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			var contentItems []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				input, err := argsObject(tc.Args)
				if err != nil {
					return nil, "", errors.Wrapf(err, "tool call %s", tc.Name)
				}
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ToolCallID,
						Name:  tc.Name,
						Input: input,
					}})
			}
			if len(contentItems) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: contentItems,
				})
			}
		case RoleTool:
			if len(msg.ToolCalls) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msg.ToolCalls[0].ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{
								Text: msg.Content,
							},
						}},
					},
				}},
			})
		case RoleSystem:
			// The last system message wins.
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt, nil
}

// convertToolsToAnthropicTools converts tool specs to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []ToolSpec) []anthropic.ToolParam {
	if len(ts) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProperties(t.Parameters),
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an accumulated Anthropic message into our internal Message format.
func processAnthropicResponse(resp *anthropic.Message) (*Message, error) {
	msg := &Message{Role: RoleAssistant}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += c.Text
		case anthropic.ToolUseBlock:
			args := string(c.Input)
			if args == "" {
				args = "{}"
			} else if !json.Valid(c.Input) {
				return nil, errors.New("invalid tool input for %s from Anthropic", c.Name)
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ToolCallID: c.ID,
				Name:       c.Name,
				Args:       args,
			})
		}
	}
	return msg, nil
}
