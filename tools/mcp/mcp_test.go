package mcp

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{ name string }

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes its text argument" }
func (t *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
	}
}
func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	text, _ := args["text"].(string)
	if text == "fail" {
		return "", errors.New("asked to fail")
	}
	return text, nil
}

// serve connects a client transport to a fresh server for toolList.
func serve(t *testing.T, toolList []tools.Tool, opts ...ServerOption) mcpsdk.Transport {
	t.Helper()
	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := NewServer(toolList, zerolog.Nop(), opts...).Connect(context.Background(), st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })
	return ct
}

func connect(t *testing.T, toolList []tools.Tool, opts ...ServerOption) *MCPClient {
	t.Helper()
	c := NewMCPClient("test", zerolog.Nop())
	require.NoError(t, c.Connect(context.Background(), serve(t, toolList, opts...)))
	t.Cleanup(func() { c.Stop() })
	return c
}

// withTransports makes the group reach each server through the transport
// registered under its name.
func (g *Group) withTransports(transports map[string]mcpsdk.Transport) *Group {
	g.connect = func(ctx context.Context, c *MCPClient, srv config.MCPServer) error {
		tr, ok := transports[srv.Name]
		if !ok {
			return errors.New("no transport for MCP server '%s'", srv.Name)
		}
		return c.Connect(ctx, tr)
	}
	return g
}

func TestBuiltinToolServer(t *testing.T) {
	registry := tools.NewToolRegistry(&config.Config{})
	c := connect(t, registry.All())

	var names []string
	for _, spec := range c.Tools() {
		names = append(names, spec.Name)
		assert.Equal(t, "object", spec.Parameters["type"], spec.Name)
	}
	assert.ElementsMatch(t, []string{"calculate", "execute_command", "list_files", "read_file", "write_file"}, names)

	res, err := c.Call(context.Background(), "calculate", `{"expression":"2+2"}`)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "4", res.Text())
}

func TestToolErrorsBecomeErrorResults(t *testing.T) {
	c := connect(t, []tools.Tool{&echoTool{name: "echo"}})

	res, err := c.Call(context.Background(), "echo", `{"text":"fail"}`)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "asked to fail")

	res, err = c.Call(context.Background(), "echo", `not json`)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "Invalid arguments")

	res, err = c.Call(context.Background(), "echo", "")
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "", res.Text())
}

func TestToolListPagination(t *testing.T) {
	var toolList []tools.Tool
	for i := 0; i < 5; i++ {
		toolList = append(toolList, &echoTool{name: fmt.Sprintf("echo_%d", i)})
	}
	c := connect(t, toolList, WithPageSize(2))
	assert.Len(t, c.Tools(), 5)
}

func TestCallAfterStop(t *testing.T) {
	c := connect(t, []tools.Tool{&echoTool{name: "echo"}})
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	_, err := c.Call(context.Background(), "echo", `{"text":"hi"}`)
	assert.ErrorContains(t, err, "not connected")
}

func TestGroupRoutesByToolName(t *testing.T) {
	g := NewGroup(zerolog.Nop(),
		config.MCPServer{Name: "first"},
		config.MCPServer{Name: "second"},
	).withTransports(map[string]mcpsdk.Transport{
		"first":  serve(t, []tools.Tool{&echoTool{name: "echo"}, &echoTool{name: "shared"}}),
		"second": serve(t, []tools.Tool{&echoTool{name: "shout"}, &echoTool{name: "shared"}}),
	})

	require.NoError(t, g.Start(context.Background()))
	defer g.Close()

	var names []string
	for _, spec := range g.Tools() {
		names = append(names, spec.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "shared", "shout"}, names)
	assert.Equal(t, "first", g.routes["shared"].Name)

	res, err := g.Call(context.Background(), "shout", `{"text":"hello"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text())

	_, err = g.Call(context.Background(), "missing", `{}`)
	assert.Error(t, err)

	assert.Error(t, g.Start(context.Background()))
}

func TestGroupStartFailureStopsStartedServers(t *testing.T) {
	g := NewGroup(zerolog.Nop(),
		config.MCPServer{Name: "good"},
		config.MCPServer{Name: "missing"},
	).withTransports(map[string]mcpsdk.Transport{
		"good": serve(t, []tools.Tool{&echoTool{name: "echo"}}),
	})

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing"))
	assert.Nil(t, g.clients)
	assert.Empty(t, g.Tools())
}

func TestGroupCommandNotFound(t *testing.T) {
	g := NewGroup(zerolog.Nop(), config.MCPServer{Name: "ghost", Command: "/nonexistent/tool-server"})
	assert.Error(t, g.Start(context.Background()))
	require.NoError(t, g.Close())
}
