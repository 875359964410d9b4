// Package tools holds the built-in tools the tool server exposes to the agent.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools map[string]Tool
}

// NewToolRegistry registers the built-in tools configured by cfg.
func NewToolRegistry(cfg *config.Config) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ListFilesTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})
	r.Register(&CalculateTool{})

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool ordered by name.
func (r *ToolRegistry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// GetActiveTools returns the tool instances for a given toolset. A nil toolset
// selects every registered tool.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	if ts == nil {
		return r.All(), nil
	}
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed reports whether the command line, with its whitespace
// normalized, matches one of the allowed patterns in full. Patterns are
// anchored at both ends; an invalid pattern only matches the exact command.
func isCommandAllowed(command string, allowed []string) (bool, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false, nil
	}
	line := strings.Join(fields, " ")

	for _, pattern := range allowed {
		re, err := regexp.Compile(`^(?:` + pattern + `)$`)
		if err != nil {
			if line == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(line) {
			return true, nil
		}
	}
	return false, nil
}

// objectSchema builds an object schema whose properties are all strings.
func objectSchema(required []string, props map[string]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, desc := range props {
		properties[name] = map[string]interface{}{"type": "string", "description": desc}
	}
	schema := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}
