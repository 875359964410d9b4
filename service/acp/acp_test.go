package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ianrichard/agentservice/history"
	"github.com/ianrichard/agentservice/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type promptFunc func(ctx context.Context, input string, hist []any, cb service.Callbacks) *service.Response

func (f promptFunc) ProcessInput(ctx context.Context, input string, hist []any, cb service.Callbacks) *service.Response {
	return f(ctx, input, hist, cb)
}

type message struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpcError   `json:"error"`
	Params struct {
		SessionID string         `json:"sessionId"`
		Update    map[string]any `json:"update"`
	} `json:"params"`
}

func runServer(t *testing.T, p service.Processor, lines ...string) []message {
	t.Helper()
	return runServerWith(t, NewServer(p, zerolog.Nop()), lines...)
}

func sessionID(t *testing.T, m message) string {
	t.Helper()
	var res struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(m.Result, &res))
	require.NotEmpty(t, res.SessionID)
	return res.SessionID
}

func TestInitialize(t *testing.T) {
	msgs := runServer(t, nil, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":1}}`)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 1, msgs[0].ID)

	var res struct {
		ProtocolVersion   int `json:"protocolVersion"`
		AgentCapabilities struct {
			LoadSession bool `json:"loadSession"`
		} `json:"agentCapabilities"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Result, &res))
	assert.Equal(t, ProtocolVersion, res.ProtocolVersion)
	assert.False(t, res.AgentCapabilities.LoadSession)
}

func TestProtocolErrors(t *testing.T) {
	msgs := runServer(t, nil,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"session/load","params":{}}`,
		`{"jsonrpc":"2.0","method":"session/cancel","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"missing","prompt":[]}}`,
	)
	require.Len(t, msgs, 3)
	assert.Equal(t, codeParseError, msgs[0].Error.Code)
	assert.Nil(t, msgs[0].ID)
	assert.Equal(t, codeMethodNotFound, msgs[1].Error.Code)
	assert.EqualValues(t, 2, msgs[1].ID)
	assert.Equal(t, codeInvalidParams, msgs[2].Error.Code)
}

func TestPromptStreamsUpdates(t *testing.T) {
	var histories [][]any
	p := promptFunc(func(ctx context.Context, input string, hist []any, cb service.Callbacks) *service.Response {
		histories = append(histories, hist)
		cb.OnToolCall(service.ToolCall{ToolName: "calculate", Args: `{"expression":"2+2"}`})
		cb.OnToolResult("4")
		cb.OnAssistantMessage("The answer ")
		cb.OnAssistantMessage("is 4")
		return &service.Response{AssistantContent: "The answer is 4"}
	})

	srv := NewServer(p, zerolog.Nop())
	created := runServerWith(t, srv, `{"jsonrpc":"2.0","id":1,"method":"session/new","params":{"cwd":"/tmp","mcpServers":[]}}`)
	require.Len(t, created, 1)
	id := sessionID(t, created[0])
	assert.True(t, strings.HasPrefix(id, "sess_"))

	prompt := `{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"` + id + `","prompt":[{"type":"text","text":"what is 2+2?"}]}}`
	msgs := runServerWith(t, srv, prompt, prompt)
	require.Len(t, msgs, 10)

	for _, m := range msgs[:4] {
		assert.Equal(t, "session/update", m.Method)
		assert.Equal(t, id, m.Params.SessionID)
	}
	assert.Equal(t, "tool_call", msgs[0].Params.Update["sessionUpdate"])
	assert.Equal(t, map[string]any{"id": "call_1", "name": "calculate", "args": `{"expression":"2+2"}`}, msgs[0].Params.Update["toolCall"])
	assert.Equal(t, "tool_result", msgs[1].Params.Update["sessionUpdate"])
	assert.Equal(t, map[string]any{"toolCallId": "call_1", "result": "4"}, msgs[1].Params.Update["toolResult"])
	assert.Equal(t, "agent_message_chunk", msgs[2].Params.Update["sessionUpdate"])
	assert.Equal(t, map[string]any{"type": "text", "text": "The answer "}, msgs[2].Params.Update["content"])

	assert.EqualValues(t, 2, msgs[4].ID)
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, string(msgs[4].Result))

	require.Len(t, histories, 2)
	assert.Nil(t, histories[0])
	assert.Equal(t, []any{
		history.Message{Role: history.RoleUser, Content: "what is 2+2?"},
		history.Message{Role: history.RoleAssistant, Content: "The answer is 4"},
	}, histories[1])
}

func TestUnreportedCallResultHasNoCallID(t *testing.T) {
	p := promptFunc(func(ctx context.Context, input string, hist []any, cb service.Callbacks) *service.Response {
		// A call without arguments is not reported, but its result is.
		cb.OnToolResult("listing")
		cb.OnToolCall(service.ToolCall{ToolName: "calculate", Args: `{"expression":"1+1"}`})
		cb.OnToolResult("2")
		cb.OnToolResult("listing again")
		return &service.Response{AssistantContent: "done"}
	})
	srv := NewServer(p, zerolog.Nop())
	srv.sessions["sess_1"] = &session{id: "sess_1", history: history.New(0)}

	msgs := runServerWith(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"session/prompt","params":{"sessionId":"sess_1","prompt":[{"type":"text","text":"go"}]}}`,
	)
	require.Len(t, msgs, 5)
	assert.Equal(t, map[string]any{"result": "listing"}, msgs[0].Params.Update["toolResult"])
	assert.Equal(t, map[string]any{"id": "call_1", "name": "calculate", "args": `{"expression":"1+1"}`}, msgs[1].Params.Update["toolCall"])
	assert.Equal(t, map[string]any{"toolCallId": "call_1", "result": "2"}, msgs[2].Params.Update["toolResult"])
	assert.Equal(t, map[string]any{"result": "listing again"}, msgs[3].Params.Update["toolResult"])
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, string(msgs[4].Result))
}

func TestPromptFailure(t *testing.T) {
	p := promptFunc(func(ctx context.Context, input string, hist []any, cb service.Callbacks) *service.Response {
		cb.OnAssistantMessage("partial")
		return &service.Response{AssistantContent: "partial", Error: "model unavailable"}
	})
	srv := NewServer(p, zerolog.Nop())
	conv := history.New(0)
	srv.sessions["sess_1"] = &session{id: "sess_1", history: conv}

	msgs := runServerWith(t, srv,
		`{"jsonrpc":"2.0","id":7,"method":"session/prompt","params":{"sessionId":"sess_1","prompt":[{"type":"text","text":"hi"}]}}`,
	)
	require.Len(t, msgs, 2)
	assert.Equal(t, "agent_message_chunk", msgs[0].Params.Update["sessionUpdate"])
	assert.EqualValues(t, 7, msgs[1].ID)
	require.NotNil(t, msgs[1].Error)
	assert.Equal(t, codeInternalError, msgs[1].Error.Code)
	assert.Equal(t, "model unavailable", msgs[1].Error.Data)
	assert.Equal(t, 0, conv.Len())
}

func runServerWith(t *testing.T, srv *Server, lines ...string) []message {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out))
	var msgs []message
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var m message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m), scanner.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestExtractUserText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o644))
	size := int64(17)

	tests := []struct {
		name     string
		blocks   []contentBlock
		contains []string
		equals   string
	}{
		{
			name:   "text blocks are joined",
			blocks: []contentBlock{{Type: "text", Text: "one"}, {Type: "text", Text: "  "}, {Type: "image"}, {Type: "text", Text: "two"}},
			equals: "one\ntwo",
		},
		{
			name: "local file is inlined",
			blocks: []contentBlock{
				{Type: "text", Text: "summarize"},
				{Type: "resource_link", Name: "notes.txt", URI: "file://" + path, MimeType: "text/plain", Title: "Notes", Size: &size},
			},
			contains: []string{
				"summarize\n=== Resource: notes.txt ===",
				"Title: Notes",
				"URI: file://" + path,
				"Type: text/plain",
				"Size: 17 bytes",
				"--- File Contents ---\nremember the milk\n--- End of File ---",
				"=== End Resource ===",
			},
		},
		{
			name:     "remote resource",
			blocks:   []contentBlock{{Type: "resource_link", Name: "page", URI: "https://example.com/page"}},
			contains: []string{"[External resource - content not available]"},
		},
		{
			name:     "missing file",
			blocks:   []contentBlock{{Type: "resource_link", Name: "gone", URI: "file://" + filepath.Join(dir, "gone.txt")}},
			contains: []string{"[Error reading file:"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUserText(tt.blocks)
			if tt.equals != "" {
				assert.Equal(t, tt.equals, got)
			}
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestReadFileFromURIKeepsWholeCharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utf8.txt")
	// "é" is two bytes; a limit of 4 cuts the third one in half.
	require.NoError(t, os.WriteFile(path, []byte("abéé"), 0o644))

	content, truncated, err := readFileFromURI("file://"+path, 3)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "ab", content)

	content, truncated, err = readFileFromURI("file://"+path, 4)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "abé", content)

	content, truncated, err = readFileFromURI("file://"+path, 6)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, "abéé", content)

	_, _, err = readFileFromURI("https://example.com/x", 10)
	assert.Error(t, err)
}

func TestTrimPartialRune(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"a\xc3", "a"},
		{"a\xe2\x82", "a"},
		{"a\xe2\x82\xac", "a\xe2\x82\xac"},
		{"\xf0\x9f\x98", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(trimPartialRune([]byte(tt.in))), "%q", tt.in)
	}
}

func TestExtractUserTextTruncatesLargeFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), maxContentSize+10), 0o644))

	got := extractUserText([]contentBlock{{Type: "resource_link", Name: "big", URI: "file://" + path}})
	assert.Contains(t, got, "[... truncated to 50KB ...]")
	assert.NotContains(t, got, strings.Repeat("x", maxContentSize+1))
}
