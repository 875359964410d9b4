// Package mcp connects the agent to tool servers speaking the Model Context
// Protocol, and serves the built-in tools as such a server.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/ianrichard/agentservice/agent"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/llm"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Version is reported to peers during the MCP handshake.
const Version = "v1.0.0"

// MCPClient manages the connection to a single MCP server.
type MCPClient struct {
	Name    string
	session *mcpsdk.ClientSession
	tools   []llm.ToolSpec
	logger  zerolog.Logger
}

func NewMCPClient(name string, logger zerolog.Logger) *MCPClient {
	return &MCPClient{
		Name:   name,
		logger: logger.With().Str("mcp_server", name).Logger(),
	}
}

// Start launches the server as a subprocess and connects to it over stdio.
// The process outlives ctx and is terminated by Stop.
func (c *MCPClient) Start(ctx context.Context, command string, args []string) error {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	c.logger.Debug().Str("command", command).Strs("args", args).Msg("starting MCP server")
	return c.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd})
}

// Connect performs the MCP handshake over transport and discovers the tools
// provided by the server.
func (c *MCPClient) Connect(ctx context.Context, transport mcpsdk.Transport) error {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentservice", Version: Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to MCP server '%s'", c.Name)
	}

	var specs []llm.ToolSpec
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := session.ListTools(ctx, params)
		if err != nil {
			session.Close()
			return errors.Wrapf(err, "failed to list tools from MCP server '%s'", c.Name)
		}
		for _, t := range list.Tools {
			spec, err := toolSpec(t)
			if err != nil {
				session.Close()
				return errors.Wrapf(err, "MCP server '%s' sent an unusable schema for '%s'", c.Name, t.Name)
			}
			specs = append(specs, spec)
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	c.session = session
	c.tools = specs
	c.logger.Info().Int("tools", len(specs)).Msg("initialized MCP client")
	return nil
}

// Tools returns the tools discovered by Connect.
func (c *MCPClient) Tools() []llm.ToolSpec {
	return c.tools
}

// Call invokes a tool. Arguments that are not a JSON object produce an error
// result rather than an error, so the model can correct itself.
func (c *MCPClient) Call(ctx context.Context, name, argsJSON string) (*agent.ToolResult, error) {
	if c.session == nil {
		return nil, errors.New("MCP server '%s' is not connected", c.Name)
	}

	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			res := agent.TextResult("Invalid arguments for '" + name + "': " + err.Error())
			res.IsError = true
			return res, nil
		}
	}

	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool '%s'", name)
	}
	return toolResult(result), nil
}

// Stop closes the session, which terminates a subprocess started by Start.
func (c *MCPClient) Stop() error {
	if c.session == nil {
		return nil
	}
	c.logger.Info().Msg("terminating MCP server")
	err := c.session.Close()
	c.session = nil
	return err
}

func toolSpec(t *mcpsdk.Tool) (llm.ToolSpec, error) {
	spec := llm.ToolSpec{Name: t.Name, Description: t.Description}
	switch schema := t.InputSchema.(type) {
	case nil:
	case map[string]any:
		spec.Parameters = schema
	default:
		data, err := json.Marshal(schema)
		if err != nil {
			return spec, err
		}
		if err := json.Unmarshal(data, &spec.Parameters); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

func toolResult(r *mcpsdk.CallToolResult) *agent.ToolResult {
	out := &agent.ToolResult{IsError: r.IsError}
	for _, c := range r.Content {
		switch c := c.(type) {
		case *mcpsdk.TextContent:
			out.Content = append(out.Content, agent.ResultContent{Type: "text", Text: c.Text})
		case *mcpsdk.ImageContent:
			out.Content = append(out.Content, agent.ResultContent{Type: "image"})
		case *mcpsdk.AudioContent:
			out.Content = append(out.Content, agent.ResultContent{Type: "audio"})
		case *mcpsdk.ResourceLink:
			out.Content = append(out.Content, agent.ResultContent{Type: "resource_link", Text: c.URI})
		case *mcpsdk.EmbeddedResource:
			res := agent.ResultContent{Type: "resource"}
			if c.Resource != nil {
				res.Text = c.Resource.Text
			}
			out.Content = append(out.Content, res)
		}
	}
	return out
}
