package mcp

import (
	"context"
	"encoding/json"

	"github.com/ianrichard/agentservice/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// ServerOption adjusts the MCP server built by NewServer.
type ServerOption func(*mcpsdk.ServerOptions)

// WithPageSize limits the number of tools returned per tools/list page.
func WithPageSize(n int) ServerOption {
	return func(o *mcpsdk.ServerOptions) { o.PageSize = n }
}

// NewServer exposes toolList as an MCP server. Failures of a tool are
// returned to the client as error results.
func NewServer(toolList []tools.Tool, logger zerolog.Logger, opts ...ServerOption) *mcpsdk.Server {
	options := &mcpsdk.ServerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "agentservice-tools", Version: Version}, options)
	for _, t := range toolList {
		server.AddTool(&mcpsdk.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		}, toolHandler(t, logger))
	}
	return server
}

// Serve runs an MCP server for toolList on transport until the client
// disconnects or ctx is done.
func Serve(ctx context.Context, toolList []tools.Tool, transport mcpsdk.Transport, logger zerolog.Logger, opts ...ServerOption) error {
	logger.Info().Int("tools", len(toolList)).Msg("serving tools over MCP")
	return NewServer(toolList, logger, opts...).Run(ctx, transport)
}

func toolHandler(t tools.Tool, logger zerolog.Logger) mcpsdk.ToolHandler {
	logger = logger.With().Str("tool", t.Name()).Logger()
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := map[string]interface{}{}
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("arguments must be a JSON object: " + err.Error()), nil
			}
		}

		out, err := t.Execute(ctx, args)
		if err != nil {
			logger.Warn().Err(err).Msg("tool failed")
			return errorResult(err.Error()), nil
		}
		logger.Debug().Int("bytes", len(out)).Msg("tool succeeded")
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}}}, nil
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}
