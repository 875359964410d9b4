// Package terminal is the interactive command-line frontend.
//
// Each line read from the input is one user turn. Model text is printed as it
// streams in; tool calls and their results are shown depending on the
// verbosity. The conversation is kept in memory and replayed to the service
// as history. "/quit" and "/exit" end the session, as does end of input.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/history"
	"github.com/ianrichard/agentservice/service"
)

type Verbosity int

const (
	// ToolVerbosityNone hides tool activity.
	ToolVerbosityNone Verbosity = iota
	// ToolVerbosityInfo shows the names of called tools.
	ToolVerbosityInfo
	// ToolVerbosityAll shows tool arguments and results as well.
	ToolVerbosityAll
)

// ParseVerbosity maps "none", "info" and "all" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return ToolVerbosityNone, nil
	case "info":
		return ToolVerbosityInfo, nil
	case "all":
		return ToolVerbosityAll, nil
	}
	return ToolVerbosityNone, errors.New("invalid tool verbosity %q (want none, info or all)", s)
}

// Terminal handles the terminal/CLI interaction mode.
type Terminal struct {
	processor service.Processor
	in        io.Reader
	out       io.Writer
	verbosity Verbosity
	history   *history.Conversation

	user      *color.Color
	assistant *color.Color
	tool      *color.Color
	failure   *color.Color
}

type Option func(*Terminal)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = in
		t.out = out
	}
}

func WithVerbosity(v Verbosity) Option {
	return func(t *Terminal) { t.verbosity = v }
}

// WithHistoryLimit bounds the number of messages replayed as history.
func WithHistoryLimit(n int) Option {
	return func(t *Terminal) { t.history = history.New(n) }
}

func New(p service.Processor, opts ...Option) *Terminal {
	t := &Terminal{
		processor: p,
		in:        os.Stdin,
		out:       os.Stdout,
		verbosity: ToolVerbosityInfo,
		history:   history.New(0),
		user:      color.New(color.FgGreen, color.Bold),
		assistant: color.New(color.FgCyan, color.Bold),
		tool:      color.New(color.FgYellow),
		failure:   color.New(color.FgRed),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// History returns the conversation so far.
func (t *Terminal) History() *history.Conversation {
	return t.history
}

// Run starts the interactive terminal session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	scanner := bufio.NewScanner(t.in)
	for {
		t.user.Fprint(t.out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(t.out)
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		t.processTurn(ctx, userInput)
	}

	return scanner.Err()
}

// processTurn handles a single user input turn.
func (t *Terminal) processTurn(ctx context.Context, userInput string) *service.Response {
	// Output starts with the assistant label and continues on the same line
	// until a tool event interrupts it.
	midLine := false
	startText := func() {
		if !midLine {
			t.assistant.Fprint(t.out, "Assistant: ")
			midLine = true
		}
	}
	endLine := func() {
		if midLine {
			fmt.Fprintln(t.out)
			midLine = false
		}
	}

	callbacks := service.Callbacks{
		OnAssistantMessage: func(delta string) {
			startText()
			fmt.Fprint(t.out, delta)
		},
		OnToolCall: func(call service.ToolCall) {
			switch t.verbosity {
			case ToolVerbosityAll:
				endLine()
				t.tool.Fprintf(t.out, "Calling tool `%s` with args: %s\n", call.ToolName, call.Args)
			case ToolVerbosityInfo:
				endLine()
				t.tool.Fprintf(t.out, "Calling tool `%s`\n", call.ToolName)
			}
		},
		OnToolResult: func(result string) {
			if t.verbosity == ToolVerbosityAll {
				endLine()
				t.tool.Fprintf(t.out, "Tool output: %s\n", result)
			}
		},
	}

	resp := t.processor.ProcessInput(ctx, userInput, t.history.Entries(), callbacks)
	endLine()

	if resp.Error != "" {
		t.failure.Fprintf(t.out, "Error: %s\n", resp.Error)
		return resp
	}
	t.history.AddTurn(userInput, resp.AssistantContent)
	return resp
}
