package service

import (
	"bytes"
	"encoding/json"

	"github.com/ianrichard/agentservice/errors"
)

// BuildPrompt returns the prompt sent to the agent. Without history it is the
// user input itself; otherwise the history is included as indented JSON ahead
// of the current query.
func BuildPrompt(userInput string, history []any) (string, error) {
	if len(history) == 0 {
		return userInput, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(history); err != nil {
		return "", errors.Wrapf(err, "failed to serialize conversation history")
	}
	return "Previous conversation:\n" + string(bytes.TrimRight(buf.Bytes(), "\n")) + "\n\nCurrent query: " + userInput, nil
}
