package service

import (
	"context"
	"io"
	"os"

	"github.com/ianrichard/agentservice/agent"
	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/llm"
	"github.com/ianrichard/agentservice/tools/mcp"
	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is used when neither the caller nor the configuration
// provides a system prompt.
const DefaultSystemPrompt = "You are a helpful assistant. Only use tools if needed for a user query."

// ToolServerCommand is the subcommand of this binary that serves the built-in tools.
const ToolServerCommand = "mcp-server"

// Runtime is the agent runtime driven by a Service.
type Runtime interface {
	RunToolServers(ctx context.Context) (io.Closer, error)
	Iter(ctx context.Context, prompt string) (Run, error)
}

// Run is one agent run, walked node by node.
type Run interface {
	Next(ctx context.Context) bool
	Node() agent.Node
	Err() error
	Close() error
}

// AgentRuntime adapts an agent to Runtime.
func AgentRuntime(a *agent.Agent) Runtime {
	return agentRuntime{a}
}

type agentRuntime struct {
	agent *agent.Agent
}

func (r agentRuntime) RunToolServers(ctx context.Context) (io.Closer, error) {
	return r.agent.RunToolServers(ctx)
}

func (r agentRuntime) Iter(ctx context.Context, prompt string) (Run, error) {
	run, err := r.agent.Iter(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Processor handles one user turn. It is what frontends depend on.
type Processor interface {
	ProcessInput(ctx context.Context, userInput string, history []any, cb Callbacks) *Response
}

// Session is a Processor with a lifecycle, created per conversation.
type Session interface {
	Processor
	Start(ctx context.Context) error
	Close() error
}

var _ Session = (*Service)(nil)

// Service pairs an agent runtime with the tool servers it uses.
type Service struct {
	model        string
	systemPrompt string
	runtime      Runtime
	logger       zerolog.Logger
	// handle stops the tool servers; nil while they are not running.
	handle io.Closer
}

type options struct {
	logger      zerolog.Logger
	cfg         *config.Config
	toolServer  *config.MCPServer
	runtime     Runtime
	maxRequests int
}

type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConfig supplies the YAML configuration: system prompt fallback, request
// limit and additional MCP servers.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithToolServer replaces the built-in tool server with the given command.
func WithToolServer(command string, args ...string) Option {
	return func(o *options) {
		o.toolServer = &config.MCPServer{Name: "tools", Command: command, Args: args}
	}
}

// WithRuntime uses rt instead of building an agent from the environment.
func WithRuntime(rt Runtime) Option {
	return func(o *options) { o.runtime = rt }
}

func WithMaxRequests(n int) Option {
	return func(o *options) { o.maxRequests = n }
}

// New creates a Service for the model named by the BASE_MODEL environment
// variable. Nothing is launched until Start.
func New(ctx context.Context, systemPrompt string, opts ...Option) (*Service, error) {
	o := &options{logger: zerolog.Nop(), cfg: &config.Config{}}
	for _, opt := range opts {
		opt(o)
	}

	model, err := config.ModelFromEnv()
	if err != nil {
		o.logger.Error().Err(err).Msg("no model configured")
		return nil, errors.Wrapf(err, "cannot create agent service")
	}

	if systemPrompt == "" {
		systemPrompt = o.cfg.SystemPrompt
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	s := &Service{
		model:        model,
		systemPrompt: systemPrompt,
		runtime:      o.runtime,
		logger:       o.logger,
	}
	o.logger.Info().Str("model", model).Msg("initializing agent")

	if s.runtime == nil {
		s.runtime, err = newAgentRuntime(ctx, model, systemPrompt, o)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newAgentRuntime(ctx context.Context, model, systemPrompt string, o *options) (Runtime, error) {
	client, err := llm.NewClient(ctx, model)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create model client for '%s'", model)
	}

	toolServer := o.toolServer
	if toolServer == nil {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot locate the tool server executable")
		}
		toolServer = &config.MCPServer{Name: "tools", Command: exe, Args: []string{ToolServerCommand}}
	}
	servers := append([]config.MCPServer{*toolServer}, o.cfg.AdditionalMCPServers...)

	maxRequests := o.maxRequests
	if maxRequests == 0 {
		maxRequests = o.cfg.MaxRequests
	}

	a := agent.New(client,
		agent.WithSystemPrompt(systemPrompt),
		agent.WithToolsets(mcp.NewGroup(o.logger, servers...)),
		agent.WithMaxRequests(maxRequests),
		agent.WithLogger(o.logger),
	)
	return AgentRuntime(a), nil
}

// Model returns the model identifier the service was created for.
func (s *Service) Model() string { return s.model }

// SystemPrompt returns the system prompt given to the agent.
func (s *Service) SystemPrompt() string { return s.systemPrompt }

// Start launches the tool servers.
func (s *Service) Start(ctx context.Context) error {
	if s.handle != nil {
		return errors.New("agent service already started")
	}
	handle, err := s.runtime.RunToolServers(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to start tool servers")
	}
	s.handle = handle
	return nil
}

// Close stops the tool servers. Calls after the first are no-ops.
func (s *Service) Close() error {
	if s.handle == nil {
		return nil
	}
	handle := s.handle
	s.handle = nil
	return handle.Close()
}

// Do runs fn with the tool servers started, and stops them when fn returns
// or panics.
func (s *Service) Do(ctx context.Context, fn func(*Service) error) (err error) {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to stop tool servers")
		}
	}()
	return fn(s)
}
