package history

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationEntries(t *testing.T) {
	c := New(0)
	assert.Nil(t, c.Entries())

	c.AddTurn("2+2", "4")
	c.AddTurn("and 3+3?", "")

	require.Equal(t, 3, c.Len())
	data, err := json.Marshal(c.Entries())
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"user","content":"2+2"},
		{"role":"assistant","content":"4"},
		{"role":"user","content":"and 3+3?"}
	]`, string(data))
}

func TestConversationLimit(t *testing.T) {
	c := New(2)
	c.AddMessage(Message{Role: RoleUser, Content: "one"})
	c.AddMessage(Message{Role: RoleAssistant, Content: "two"})
	c.AddMessage(Message{Role: RoleUser, Content: "three"})

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestMessagesReturnsCopy(t *testing.T) {
	c := New(0)
	c.AddMessage(Message{Role: RoleUser, Content: "hi"})
	msgs := c.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "hi", c.Messages()[0].Content)
}
