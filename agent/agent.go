package agent

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/llm"
	"github.com/rs/zerolog"
)

// DefaultMaxRequests bounds the number of model requests in a single run.
const DefaultMaxRequests = 50

// ErrRequestLimit is returned by a run that needed more model requests than allowed.
var ErrRequestLimit = errors.Sentinel("model request limit exceeded")

// ResultContent is one segment of a tool result.
type ResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the payload a tool server returned for a call.
type ToolResult struct {
	Content []ResultContent `json:"content"`
	IsError bool            `json:"is_error,omitempty"`
}

// TextResult builds a result holding a single text segment.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ResultContent{{Type: "text", Text: text}}}
}

// Text returns the first text segment, or "" when there is none.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

func (r *ToolResult) modelText() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Toolset is a source of tools, typically one or more tool-server processes.
// Tools is only meaningful after Start succeeded.
type Toolset interface {
	Start(ctx context.Context) error
	Tools() []llm.ToolSpec
	Call(ctx context.Context, name, argsJSON string) (*ToolResult, error)
	Close() error
}

// Agent couples a model with the toolsets it may call.
type Agent struct {
	model        llm.Client
	systemPrompt string
	toolsets     []Toolset
	maxRequests  int
	logger       zerolog.Logger
}

type Option func(*Agent)

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

func WithToolsets(toolsets ...Toolset) Option {
	return func(a *Agent) { a.toolsets = append(a.toolsets, toolsets...) }
}

// WithMaxRequests sets the request limit. Values below one keep the default.
func WithMaxRequests(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRequests = n
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func New(model llm.Client, opts ...Option) *Agent {
	a := &Agent{
		model:       model,
		maxRequests: DefaultMaxRequests,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunToolServers starts every toolset. The returned closer stops them again;
// closing it more than once is a no-op. When a toolset fails to start, the ones
// already started are closed before the error is returned.
func (a *Agent) RunToolServers(ctx context.Context) (io.Closer, error) {
	started := make([]Toolset, 0, len(a.toolsets))
	for i, ts := range a.toolsets {
		if err := ts.Start(ctx); err != nil {
			closeAll(started)
			return nil, errors.Wrapf(err, "failed to start toolset %d", i)
		}
		started = append(started, ts)
	}
	a.logger.Debug().Int("toolsets", len(started)).Msg("tool servers running")
	return &toolsetCloser{toolsets: started, logger: a.logger}, nil
}

type toolsetCloser struct {
	once     sync.Once
	toolsets []Toolset
	logger   zerolog.Logger
	err      error
}

func (c *toolsetCloser) Close() error {
	c.once.Do(func() {
		c.err = closeAll(c.toolsets)
		c.logger.Debug().Msg("tool servers stopped")
	})
	return c.err
}

// closeAll closes toolsets in reverse start order and returns the first error.
func closeAll(toolsets []Toolset) error {
	var first error
	for i := len(toolsets) - 1; i >= 0; i-- {
		if err := toolsets[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Iter opens a run for prompt. The run is advanced with Next.
func (a *Agent) Iter(ctx context.Context, prompt string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &Run{
		ID:     uuid.NewString(),
		agent:  a,
		prompt: prompt,
		routes: make(map[string]Toolset),
	}
	r.logger = a.logger.With().Str("run_id", r.ID).Logger()

	for _, ts := range a.toolsets {
		for _, spec := range ts.Tools() {
			if _, dup := r.routes[spec.Name]; dup {
				r.logger.Warn().Str("tool", spec.Name).Msg("duplicate tool name, keeping the first")
				continue
			}
			r.routes[spec.Name] = ts
			r.specs = append(r.specs, spec)
		}
	}

	if a.systemPrompt != "" {
		r.messages = append(r.messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	}
	r.logger.Debug().Int("tools", len(r.specs)).Msg("run opened")
	return r, nil
}
