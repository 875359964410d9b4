package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/ianrichard/agentservice/errors"
	"github.com/ianrichard/agentservice/history"
	"github.com/ianrichard/agentservice/service"
	"github.com/rs/zerolog"
)

// ProtocolVersion is the ACP version this server speaks.
const ProtocolVersion = 1

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxMessageSize bounds a single JSON-RPC line; prompts may inline files.
const maxMessageSize = 16 << 20

// jsonrpcRequest represents a JSON-RPC 2.0 request message.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message.
type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// session is one editor conversation.
type session struct {
	id      string
	cwd     string
	history *history.Conversation
}

// Server answers ACP requests with a single service. Prompts are handled one
// at a time, in the order they are read.
type Server struct {
	processor service.Processor
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	writeMu sync.Mutex
	out     *bufio.Writer
}

func NewServer(p service.Processor, logger zerolog.Logger) *Server {
	return &Server{
		processor: p,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// Run reads requests from in until EOF or ctx is done, writing responses and
// notifications to out.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	s.logger.Info().Msg("ACP server started")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload := scanner.Bytes()
		if len(payload) == 0 {
			continue
		}
		s.logger.Debug().RawJSON("payload", validJSON(payload)).Msg("received")

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn().Err(err).Msg("JSON parse error")
			s.writeError(nil, codeParseError, "Parse error", nil)
			continue
		}
		s.dispatch(ctx, &req)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "ACP: read error")
	}
	s.logger.Info().Msg("ACP client closed input")
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpcRequest) {
	s.logger.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("dispatching")
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "session/new":
		s.handleSessionNew(req)
	case "session/prompt":
		s.handleSessionPrompt(ctx, req)
	default:
		if req.ID == nil {
			// Unknown notifications are ignored.
			return
		}
		s.writeError(req.ID, codeMethodNotFound, "Method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if err := decodeParams(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	s.logger.Info().Int("client_protocol", p.ProtocolVersion).Msg("initialize")

	s.writeResult(req.ID, map[string]any{
		"protocolVersion": ProtocolVersion,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *Server) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if err := decodeParams(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	sess := &session{
		id:      "sess_" + uuid.NewString(),
		cwd:     p.Cwd,
		history: history.New(0),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.logger.Info().Str("session_id", sess.id).Str("cwd", p.Cwd).Msg("session created")

	s.writeResult(req.ID, map[string]any{"sessionId": sess.id})
}

func (s *Server) handleSessionPrompt(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := decodeParams(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[p.SessionID]
	s.mu.Unlock()
	if !ok {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	userText := extractUserText(p.Prompt)
	logger := s.logger.With().Str("session_id", sess.id).Logger()
	logger.Debug().Int("blocks", len(p.Prompt)).Int("chars", len(userText)).Msg("prompt received")

	// Each tool result directly follows its call. Calls the service does not
	// report (no arguments) leave pending empty, and their results are sent
	// without a toolCallId.
	var pending string
	seq := 0
	callbacks := service.Callbacks{
		OnAssistantMessage: func(delta string) {
			s.sendUpdate(sess.id, map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": delta},
			})
		},
		OnToolCall: func(call service.ToolCall) {
			seq++
			pending = fmt.Sprintf("call_%d", seq)
			s.sendUpdate(sess.id, map[string]any{
				"sessionUpdate": "tool_call",
				"toolCall": map[string]any{
					"id":   pending,
					"name": call.ToolName,
					"args": call.Args,
				},
			})
		},
		OnToolResult: func(result string) {
			toolResult := map[string]any{"result": result}
			if pending != "" {
				toolResult["toolCallId"] = pending
				pending = ""
			}
			s.sendUpdate(sess.id, map[string]any{
				"sessionUpdate": "tool_result",
				"toolResult":    toolResult,
			})
		},
	}

	resp := s.processor.ProcessInput(ctx, userText, sess.history.Entries(), callbacks)
	if resp.Error != "" {
		logger.Error().Str("error", resp.Error).Msg("prompt failed")
		s.writeError(req.ID, codeInternalError, "Internal error", resp.Error)
		return
	}
	sess.history.AddTurn(userText, resp.AssistantContent)

	s.writeResult(req.ID, map[string]any{"stopReason": "end_turn"})
}

func (s *Server) sendUpdate(sessionID string, update map[string]any) {
	s.writeJSON(jsonrpcNotification{
		JSONRPC: "2.0",
		Method:  "session/update",
		Params:  map[string]any{"sessionId": sessionID, "update": update},
	})
}

func (s *Server) writeResult(id any, result any) {
	s.writeJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id any, code int, msg string, data any) {
	s.writeJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeJSON writes one newline-terminated message and flushes it.
func (s *Server) writeJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to serialize JSON-RPC message")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.logger.Debug().RawJSON("payload", data).Msg("sending")
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error().Err(err).Msg("write failed")
		return
	}
	if err := s.out.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("flush failed")
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// validJSON returns b when it is valid JSON and a JSON string of it otherwise,
// so it can be logged with RawJSON.
func validJSON(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
