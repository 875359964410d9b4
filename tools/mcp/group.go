package mcp

import (
	"context"

	"github.com/ianrichard/agentservice/agent"
	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/llm"
	"github.com/rs/zerolog"
)

// Group is an agent.Toolset backed by several MCP servers. Calls are routed
// by tool name; when two servers offer the same name the first one wins.
type Group struct {
	servers []config.MCPServer
	logger  zerolog.Logger
	// connect overrides how a server is reached; nil launches its command.
	connect func(ctx context.Context, c *MCPClient, srv config.MCPServer) error

	clients []*MCPClient
	routes  map[string]*MCPClient
	tools   []llm.ToolSpec
}

var _ agent.Toolset = (*Group)(nil)

func NewGroup(logger zerolog.Logger, servers ...config.MCPServer) *Group {
	return &Group{servers: servers, logger: logger}
}

// Start connects to every server. If one fails, the servers already started
// are stopped again.
func (g *Group) Start(ctx context.Context) error {
	if g.clients != nil {
		return errors.New("MCP servers are already running")
	}

	routes := make(map[string]*MCPClient)
	var clients []*MCPClient
	var specs []llm.ToolSpec
	for _, srv := range g.servers {
		c := NewMCPClient(srv.Name, g.logger)
		var err error
		if g.connect != nil {
			err = g.connect(ctx, c, srv)
		} else {
			err = c.Start(ctx, srv.Command, srv.Args)
		}
		if err != nil {
			stopAll(clients)
			return err
		}
		clients = append(clients, c)

		for _, spec := range c.Tools() {
			if owner, dup := routes[spec.Name]; dup {
				g.logger.Warn().Str("tool", spec.Name).Str("kept", owner.Name).Str("ignored", c.Name).
					Msg("tool offered by more than one MCP server")
				continue
			}
			routes[spec.Name] = c
			specs = append(specs, spec)
		}
	}

	g.clients, g.routes, g.tools = clients, routes, specs
	return nil
}

func (g *Group) Tools() []llm.ToolSpec {
	return g.tools
}

func (g *Group) Call(ctx context.Context, name, argsJSON string) (*agent.ToolResult, error) {
	c, ok := g.routes[name]
	if !ok {
		return nil, errors.New("no MCP server offers tool '%s'", name)
	}
	return c.Call(ctx, name, argsJSON)
}

// Close stops every server. The group can be started again afterwards.
func (g *Group) Close() error {
	err := stopAll(g.clients)
	g.clients, g.routes, g.tools = nil, nil, nil
	return err
}

func stopAll(clients []*MCPClient) error {
	var first error
	for i := len(clients) - 1; i >= 0; i-- {
		if err := clients[i].Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
