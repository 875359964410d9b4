// Package ws exposes the agent service over WebSocket. Every connection gets
// its own service session and conversation history.
//
// Clients send {"input": "..."} text frames. For each input the server
// streams assistant_delta, tool_call and tool_result frames and ends the turn
// with a done frame carrying the full response, or an error frame.
package ws

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/history"
	"github.com/ianrichard/agentservice/service"
	"github.com/rs/zerolog"
)

// Path is where Serve mounts the handler.
const Path = "/ws"

// Frame types sent to clients.
const (
	FrameAssistantDelta = "assistant_delta"
	FrameToolCall       = "tool_call"
	FrameToolResult     = "tool_result"
	FrameDone           = "done"
	FrameError          = "error"
)

// Request is an inbound client message.
type Request struct {
	Input string `json:"input"`
}

// Frame is an outbound message. Only the fields of its type are set.
type Frame struct {
	Type     string            `json:"type"`
	Content  string            `json:"content,omitempty"`
	ToolName string            `json:"tool_name,omitempty"`
	Args     string            `json:"args,omitempty"`
	Result   string            `json:"result,omitempty"`
	Response *service.Response `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// SessionFactory creates the session serving one connection.
type SessionFactory func(ctx context.Context) (service.Session, error)

type Handler struct {
	newSession   SessionFactory
	logger       zerolog.Logger
	historyLimit int
	upgrader     websocket.Upgrader
}

type Option func(*Handler)

// WithHistoryLimit bounds the history kept per connection.
func WithHistoryLimit(n int) Option {
	return func(h *Handler) { h.historyLimit = n }
}

// WithAllowedOrigins accepts browser connections from the given origins, such
// as "http://localhost:3000". "*" accepts any origin. Without this option only
// same-origin requests and clients that send no Origin header are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(origins, "*") || slices.Contains(origins, origin)
		}
	}
}

// NewHandler creates the WebSocket endpoint. The upgrader keeps gorilla's
// same-origin check unless WithAllowedOrigins is given.
func NewHandler(factory SessionFactory, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		newSession: factory,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("conn_id", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("client connected")
	defer logger.Info().Msg("client disconnected")

	ctx := r.Context()
	sess, err := h.newSession(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create session")
		writeFrame(conn, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	if err := sess.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start session")
		writeFrame(conn, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close session")
		}
	}()

	c := &connection{conn: conn, session: sess, history: history.New(h.historyLimit), logger: logger}
	c.serve(ctx)
}

type connection struct {
	conn    *websocket.Conn
	session service.Session
	history *history.Conversation
	logger  zerolog.Logger
}

func (c *connection) serve(ctx context.Context) {
	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		if err := c.turn(ctx, req.Input); err != nil {
			c.logger.Warn().Err(err).Msg("write failed")
			return
		}
	}
}

// turn processes one input. Only write failures are returned.
func (c *connection) turn(ctx context.Context, input string) error {
	var writeErr error
	send := func(f Frame) {
		if writeErr == nil {
			writeErr = writeFrame(c.conn, f)
		}
	}

	resp := c.session.ProcessInput(ctx, input, c.history.Entries(), service.Callbacks{
		OnAssistantMessage: func(delta string) {
			send(Frame{Type: FrameAssistantDelta, Content: delta})
		},
		OnToolCall: func(call service.ToolCall) {
			send(Frame{Type: FrameToolCall, ToolName: call.ToolName, Args: call.Args})
		},
		OnToolResult: func(result string) {
			send(Frame{Type: FrameToolResult, Result: result})
		},
	})

	if resp.Error != "" {
		c.logger.Error().Str("error", resp.Error).Msg("turn failed")
		send(Frame{Type: FrameError, Error: resp.Error, Response: resp})
	} else {
		c.history.AddTurn(input, resp.AssistantContent)
		send(Frame{Type: FrameDone, Response: resp})
	}
	return writeErr
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	if err := conn.WriteJSON(f); err != nil {
		return errors.Wrapf(err, "failed to write %s frame", f.Type)
	}
	return nil
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, h *Handler) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info().Str("addr", "ws://"+addr+Path).Msg("WebSocket server running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "WebSocket server stopped")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
