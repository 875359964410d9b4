// Command agentservice runs the agent service behind one of its frontends:
// an interactive terminal, the Agent Client Protocol over stdio, or a
// WebSocket server. The mcp-server subcommand is the built-in tool server the
// other modes launch as a subprocess.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/service"
	"github.com/ianrichard/agentservice/service/acp"
	"github.com/ianrichard/agentservice/service/terminal"
	"github.com/ianrichard/agentservice/service/ws"
	"github.com/ianrichard/agentservice/tools"
	"github.com/ianrichard/agentservice/tools/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		stop()
		os.Exit(1)
	}
}

// app holds what the subcommands share once the root command has loaded the
// environment and the configuration.
type app struct {
	logLevel     string
	toolset      string
	systemPrompt string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "agentservice",
		Short:         "Run a model agent with MCP tools and streaming output",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log_level)")
	flags.StringVarP(&a.toolset, "toolset", "t", "", "Toolset from the configuration to expose (defaults to 'default')")
	flags.StringVar(&a.systemPrompt, "system-prompt", "", "System prompt (overrides system_prompt)")

	root.AddCommand(a.chatCmd(), a.acpCmd(), a.wsCmd(), a.mcpServerCmd())
	return root
}

func (a *app) load(logOut io.Writer) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "error loading configuration")
	}
	a.cfg = cfg

	level := a.logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	a.logger, err = newLogger(logOut, level)
	return err
}

func newLogger(out io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level '%s'", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}

// newService builds a service wired to the configuration and the selected
// toolset. It does not start the tool servers.
func (a *app) newService(ctx context.Context, logger zerolog.Logger) (*service.Service, error) {
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithConfig(a.cfg),
	}
	if a.toolset != "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot locate the tool server executable")
		}
		opts = append(opts, service.WithToolServer(exe, service.ToolServerCommand, "--toolset", a.toolset))
	}
	return service.New(ctx, a.systemPrompt, opts...)
}

func (a *app) chatCmd() *cobra.Command {
	var verbosity string
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := terminal.ParseVerbosity(verbosity)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := a.newService(ctx, a.logger)
			if err != nil {
				return err
			}
			return svc.Do(ctx, func(s *service.Service) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Agent is ready (%s). Type your prompt, /quit to exit.\n", s.Model())
				term := terminal.New(s,
					terminal.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
					terminal.WithVerbosity(v),
				)
				return term.Run(ctx, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().StringVar(&verbosity, "tool-verbosity", "info", "Tool verbosity level: 'none', 'info', or 'all'")
	return cmd
}

func (a *app) acpCmd() *cobra.Command {
	var trace string
	cmd := &cobra.Command{
		Use:   "acp",
		Short: "Serve the Agent Client Protocol over stdin and stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol, so logs only go to the trace file.
			logger := zerolog.Nop()
			if trace != "" {
				f, err := os.OpenFile(trace, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return errors.Wrapf(err, "failed to open trace file")
				}
				defer f.Close()
				logger = zerolog.New(f).Level(zerolog.DebugLevel).With().Timestamp().Logger()
			}

			ctx := cmd.Context()
			svc, err := a.newService(ctx, logger)
			if err != nil {
				return err
			}
			return svc.Do(ctx, func(s *service.Service) error {
				return acp.NewServer(s, logger).Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&trace, "trace", "", "Write a debug trace of the session to this file")
	return cmd
}

func (a *app) wsCmd() *cobra.Command {
	var addr string
	var origins []string
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "Serve the agent over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.WebSocketAddr
			}
			// Fail fast on a missing model instead of on the first connection.
			if _, err := config.ModelFromEnv(); err != nil {
				return err
			}
			factory := func(ctx context.Context) (service.Session, error) {
				return a.newService(ctx, a.logger)
			}
			return ws.Serve(cmd.Context(), addr, ws.NewHandler(factory, a.logger, ws.WithAllowedOrigins(origins...)))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides ws_addr)")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "Browser origin allowed to connect, '*' for any (default same-origin only)")
	return cmd
}

func (a *app) mcpServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   service.ToolServerCommand,
		Short: "Serve the built-in tools over MCP on stdin and stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serveTools(cmd.Context(), &mcpsdk.StdioTransport{})
		},
	}
}

func (a *app) serveTools(ctx context.Context, transport mcpsdk.Transport) error {
	ts, err := a.cfg.GetToolset(a.toolset)
	if err != nil {
		return err
	}
	active, err := tools.NewToolRegistry(a.cfg).GetActiveTools(ts)
	if err != nil {
		return err
	}
	a.logger.Debug().Int("tools", len(active)).Msg("serving built-in tools")
	return mcp.Serve(ctx, active, transport, a.logger)
}
