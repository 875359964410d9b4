package llm

import (
	"context"
	"os"

	"github.com/ianrichard/agentservice/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The client must stay addressable; the SDK's services hold a pointer to its options.
	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

// Stream starts a streamed chat completion.
func (o *OpenAILLMClient) Stream(ctx context.Context, messages []Message, availableTools []ToolSpec) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenaiContent(messages),
		Tools:    convertToolsToOpenAITools(availableTools),
	}
	return &openaiStream{stream: o.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// sseStream is the iteration surface shared by the SDKs' server-sent event streams.
type sseStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

type openaiStream struct {
	stream sseStream[openai.ChatCompletionChunk]
	acc    openai.ChatCompletionAccumulator
	delta  string
}

func (s *openaiStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		s.acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			s.delta = chunk.Choices[0].Delta.Content
			return true
		}
	}
	return false
}

func (s *openaiStream) Delta() string { return s.delta }

func (s *openaiStream) Message() *Message {
	if len(s.acc.Choices) == 0 {
		return &Message{Role: RoleAssistant}
	}
	return processOpenaiMessage(s.acc.Choices[0].Message)
}

func (s *openaiStream) Err() error {
	return errors.Wrapf(s.stream.Err(), "OpenAI stream failed")
}

func (s *openaiStream) Close() error { return s.stream.Close() }

// processOpenaiMessage converts an OpenAI assistant message into our internal Message format.
func processOpenaiMessage(choice openai.ChatCompletionMessage) *Message {
	msg := &Message{Role: RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Args:       tc.Function.Arguments,
		})
	}
	return msg
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCallUnion
				for _, tc := range msg.ToolCalls {
					args := tc.Args
					if args == "" {
						args = "{}"
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ToolCallID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: args,
						},
					})
				}
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case RoleTool:
			// The call id is the only link back to the assistant's request.
			if len(msg.ToolCalls) != 1 {
				continue
			}
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCalls[0].ToolCallID))
		case RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tool specs to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []ToolSpec) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": schemaProperties(t.Parameters),
		}
		if required, ok := t.Parameters["required"]; ok {
			params["required"] = required
		}

		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  params,
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}
