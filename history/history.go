// Package history keeps the in-memory conversation a frontend replays to the
// service on every turn. Nothing is written to disk.
package history

import "sync"

// Roles used by the bundled frontends.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn. It serializes to {"role": ..., "content": ...}.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an append-only list of messages, safe for concurrent use.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
	limit    int
}

// New creates a conversation that keeps at most limit messages; zero or a
// negative limit keeps everything.
func New(limit int) *Conversation {
	return &Conversation{limit: limit}
}

// AddMessage appends a message, dropping the oldest ones beyond the limit.
func (c *Conversation) AddMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	if c.limit > 0 && len(c.messages) > c.limit {
		c.messages = append([]Message(nil), c.messages[len(c.messages)-c.limit:]...)
	}
}

// AddTurn records a user input and the assistant reply that answered it.
// An empty reply is not recorded.
func (c *Conversation) AddTurn(userInput, reply string) {
	c.AddMessage(Message{Role: RoleUser, Content: userInput})
	if reply != "" {
		c.AddMessage(Message{Role: RoleAssistant, Content: reply})
	}
}

// Messages returns a copy of the stored messages.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Entries returns the messages as opaque history entries, or nil when the
// conversation is empty.
func (c *Conversation) Entries() []any {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return nil
	}
	entries := make([]any, len(msgs))
	for i, m := range msgs {
		entries[i] = m
	}
	return entries
}

// Len reports the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
