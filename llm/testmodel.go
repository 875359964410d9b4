package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TestClient is a scripted model that needs no network access. Each Stream
// call consumes the next reply; once the script runs out it echoes the last
// user message. Text is delivered word by word.
type TestClient struct {
	mu      sync.Mutex
	replies []Message
	// Err, when set, is reported by every stream after its text is delivered.
	Err   error
	calls [][]Message
}

// NewTestClient creates a TestClient that answers with the given replies in order.
func NewTestClient(replies ...Message) *TestClient {
	return &TestClient{replies: replies}
}

func (c *TestClient) Stream(ctx context.Context, messages []Message, availableTools []ToolSpec) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, append([]Message(nil), messages...))
	var reply Message
	if len(c.replies) > 0 {
		reply = c.replies[0]
		c.replies = c.replies[1:]
	} else {
		reply = Message{Content: fmt.Sprintf("You said: '%s'", lastUserContent(messages))}
	}
	c.mu.Unlock()

	reply.Role = RoleAssistant
	var chunks []string
	if reply.Content != "" {
		chunks = strings.SplitAfter(reply.Content, " ")
	}
	return &chunkStream{chunks: chunks, msg: &reply, err: c.Err}, nil
}

// Calls returns the conversations the client has been asked to continue.
func (c *TestClient) Calls() [][]Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Message(nil), c.calls...)
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

type chunkStream struct {
	chunks []string
	pos    int
	msg    *Message
	err    error
}

func (s *chunkStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *chunkStream) Delta() string { return s.chunks[s.pos-1] }

func (s *chunkStream) Message() *Message {
	if s.err != nil {
		return nil
	}
	return s.msg
}

func (s *chunkStream) Err() error {
	if s.pos < len(s.chunks) {
		return nil
	}
	return s.err
}

func (s *chunkStream) Close() error { return nil }
