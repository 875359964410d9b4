package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/ianrichard/agentservice/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// Stream sends the conversation to Gemini and streams the reply.
func (g *GeminiLLMClient) Stream(ctx context.Context, messages []Message, availableTools []ToolSpec) (Stream, error) {
	tools, wrapped := convertToolsToGeminiTools(availableTools)
	history, systemPrompt, err := convertMessagesToGeminiContent(messages, wrapped)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	// A model handle per request keeps tools and the system prompt local to it.
	model := g.client.GenerativeModel(g.modelName)
	model.Tools = tools
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	return &geminiStream{
		iter:    chatSession.SendMessageStream(ctx, lastMessage.Parts...),
		msg:     &Message{Role: RoleAssistant},
		wrapped: wrapped,
	}, nil
}

type geminiStream struct {
	iter    *genai.GenerateContentResponseIterator
	msg     *Message
	pending []string
	delta   string
	callSeq int
	err     error
	done    bool
	// wrapped names the tools declared with a nested "args" map.
	wrapped map[string]bool
}

func (s *geminiStream) Next() bool {
	for len(s.pending) == 0 {
		if s.done || s.err != nil {
			return false
		}
		resp, err := s.iter.Next()
		if err == iterator.Done {
			s.done = true
			return false
		}
		if err != nil {
			s.err = errors.Wrapf(err, "Gemini stream failed")
			return false
		}
		if err := s.consume(resp); err != nil {
			s.err = err
			return false
		}
	}
	s.delta, s.pending = s.pending[0], s.pending[1:]
	return true
}

// consume folds one streamed response into the message and queues its text.
func (s *geminiStream) consume(resp *genai.GenerateContentResponse) error {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			if v != "" {
				s.msg.Content += string(v)
				s.pending = append(s.pending, string(v))
			}
		case genai.FunctionCall:
			toolArgs := v.Args
			if s.wrapped[v.Name] {
				if nested, ok := v.Args["args"].(map[string]interface{}); ok {
					toolArgs = nested
				}
			}
			if toolArgs == nil {
				toolArgs = map[string]interface{}{}
			}
			args, err := json.Marshal(toolArgs)
			if err != nil {
				return errors.Wrapf(err, "failed to encode arguments for %s", v.Name)
			}
			s.msg.ToolCalls = append(s.msg.ToolCalls, ToolCall{
				ToolCallID: fmt.Sprintf("call_%d_%s", s.callSeq, v.Name),
				Name:       v.Name,
				Args:       string(args),
			})
			s.callSeq++
		default:
			return errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return nil
}

func (s *geminiStream) Delta() string { return s.delta }

func (s *geminiStream) Message() *Message {
	if s.err != nil {
		return nil
	}
	return s.msg
}

func (s *geminiStream) Err() error   { return s.err }
func (s *geminiStream) Close() error { return nil }

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
// Calls to wrapped tools are replayed with their arguments nested under "args".
func convertMessagesToGeminiContent(messages []Message, wrapped map[string]bool) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	var systemPrompt string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = msg.Content
		case RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, err := argsObject(tc.Args)
				if err != nil {
					return nil, "", err
				}
				if wrapped[tc.Name] {
					args = map[string]any{"args": args}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			if len(msg.ToolCalls) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.ToolCalls[0].Name,
					Response: map[string]any{"result": msg.Content},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents, systemPrompt, nil
}

// convertToolsToGeminiTools converts tool specs to Gemini's FunctionDeclaration
// format. Gemini rejects object schemas without properties, so a tool whose
// schema declares none takes its arguments as a single nested "args" map; the
// returned set names those tools.
func convertToolsToGeminiTools(ts []ToolSpec) ([]*genai.Tool, map[string]bool) {
	if len(ts) == 0 {
		return nil, nil
	}
	var funcDecls []*genai.FunctionDeclaration
	wrapped := map[string]bool{}

	for _, tool := range ts {
		params := geminiSchema(tool.Parameters)
		if params == nil || params.Type != genai.TypeObject || len(params.Properties) == 0 {
			wrapped[tool.Name] = true
			params = &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"args": {
						Type:        genai.TypeObject,
						Description: "Arguments for the function call, as a map.",
					},
				},
				Required: []string{"args"},
			}
		}
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}, wrapped
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// geminiSchema converts a JSON schema into the subset Gemini understands.
// It returns nil for a schema without a known type.
func geminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	typeName, _ := schema["type"].(string)
	if typeName == "" && schema["properties"] != nil {
		typeName = "object"
	}
	typ, ok := geminiTypes[typeName]
	if !ok {
		return nil
	}

	out := &genai.Schema{Type: typ}
	out.Description, _ = schema["description"].(string)
	out.Format, _ = schema["format"].(string)
	out.Nullable, _ = schema["nullable"].(bool)
	out.Enum = stringList(schema["enum"])

	switch typ {
	case genai.TypeObject:
		for name, prop := range schemaProperties(schema) {
			propSchema, _ := prop.(map[string]any)
			if ps := geminiSchema(propSchema); ps != nil {
				if out.Properties == nil {
					out.Properties = map[string]*genai.Schema{}
				}
				out.Properties[name] = ps
			}
		}
		for _, name := range stringList(schema["required"]) {
			if _, ok := out.Properties[name]; ok {
				out.Required = append(out.Required, name)
			}
		}
	case genai.TypeArray:
		items, _ := schema["items"].(map[string]any)
		out.Items = geminiSchema(items)
		if out.Items == nil {
			out.Items = &genai.Schema{Type: genai.TypeString}
		}
	}
	return out
}

// stringList reads a JSON list of strings decoded either as []string or []any.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
