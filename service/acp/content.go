package acp

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ianrichard/agentservice/errors"
)

// maxContentSize limits how much of a linked file is inlined into a prompt.
const maxContentSize = 50000

// contentBlock is a prompt content block. Only text and resource_link blocks
// are used; other types are ignored.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ResourceLink fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// readFileFromURI reads up to limit bytes of the file a file:// URI points
// to. truncated reports whether the file is longer. The content is cut back
// to a whole UTF-8 character.
func readFileFromURI(uri string, limit int64) (content string, truncated bool, err error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", false, errors.Wrapf(err, "invalid URI")
	}
	if parsedURL.Scheme != "file" {
		return "", false, errors.New("unsupported URI scheme: %s", parsedURL.Scheme)
	}

	f, err := os.Open(parsedURL.Path)
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read file")
	}
	if int64(len(data)) <= limit {
		return string(data), false, nil
	}
	data = data[:limit]
	return string(trimPartialRune(data)), true, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}

// extractUserText joins the prompt blocks into the text sent to the agent.
// Linked files are inlined with their metadata.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, truncated, err := readFileFromURI(b.URI, maxContentSize)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if truncated {
				content += "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}

	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
