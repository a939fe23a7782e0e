package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/registry"
	"github.com/zhubert/tether/shell"
)

// spawnResult is the tether_spawn payload: a status plus the new session's
// info snapshot, flattened.
type spawnResult struct {
	Status string `json:"status"`
	shell.Info
}

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "tether"
	ServerVersion   = "1.0.0"
)

// Server implements an MCP server exposing shell session tools over a
// newline-delimited JSON-RPC stream (stdin/stdout in production).
type Server struct {
	reader           *bufio.Reader
	writer           io.Writer
	registry         *registry.Registry
	defaultTimeoutMs int
	mu               sync.Mutex // serializes writes to the output stream
	log              *slog.Logger
}

// NewServer creates a new MCP server backed by the given session registry.
func NewServer(r io.Reader, w io.Writer, reg *registry.Registry, defaultTimeoutMs int) *Server {
	return &Server{
		reader:           bufio.NewReader(r),
		writer:           w,
		registry:         reg,
		defaultTimeoutMs: defaultTimeoutMs,
		log:              logger.WithComponent("mcp"),
	}
}

// Run starts the MCP server loop. It returns when the input stream closes.
func (s *Server) Run() error {
	s.log.Info("server starting")

	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			s.log.Info("EOF received, shutting down")
			return nil
		}
		if err != nil {
			s.log.Error("read error", "error", err)
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.log.Debug("received message", "line", line)

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.log.Error("JSON parse error", "error", err)
			s.sendError(nil, -32700, "Parse error", nil)
			continue
		}

		s.handleRequest(&req)
	}
}

func (s *Server) handleRequest(req *JSONRPCRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// Notification, no response needed
		s.log.Debug("initialized notification received")
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(req)
	default:
		s.log.Warn("unknown method", "method", req.Method)
		s.sendError(req.ID, -32601, "Method not found", nil)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.log.Warn("unparseable initialize params", "error", err)
		}
	}
	s.log.Info("client connected",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", params.ProtocolVersion)

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capability{
			Tools: &ToolCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		Instructions: "This server manages persistent interactive shell sessions. Spawn a session once, then run commands against it; environment and working directory persist between commands.",
	}

	s.sendResult(req.ID, result)
}

func (s *Server) handleToolsList(req *JSONRPCRequest) {
	tools := []ToolDefinition{
		{
			Name:        "tether_spawn",
			Description: "Start a persistent shell session. Returns the session id used by the other tools. Environment variables and working directory persist across commands within the session.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {
						Type:        "string",
						Description: "Optional session identifier. Auto-generated when omitted.",
					},
					"shell": {
						Type:        "string",
						Description: "Optional shell executable path. Auto-detected when omitted.",
					},
					"cwd": {
						Type:        "string",
						Description: "Optional initial working directory.",
					},
					"env": {
						Type:        "object",
						Description: "Optional environment variable overrides for the session.",
					},
				},
			},
		},
		{
			Name:        "tether_exec",
			Description: "Execute a command in an existing shell session and return its merged stdout/stderr and exit code. Commands that exceed the timeout return partial output and keep running.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {
						Type:        "string",
						Description: "The session to run the command in.",
					},
					"command": {
						Type:        "string",
						Description: "The shell command to execute.",
					},
					"timeout_ms": {
						Type:        "number",
						Description: "Optional per-command timeout in milliseconds.",
					},
				},
				Required: []string{"session_id", "command"},
			},
		},
		{
			Name:        "tether_list",
			Description: "List all live shell sessions with their state.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{},
			},
		},
		{
			Name:        "tether_close",
			Description: "Terminate a shell session and release its resources.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_id": {
						Type:        "string",
						Description: "The session to close.",
					},
				},
				Required: []string{"session_id"},
			},
		},
	}

	s.sendResult(req.ID, ToolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(req *JSONRPCRequest) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Error("failed to parse tool call params", "error", err)
		s.sendError(req.ID, -32602, "Invalid params", nil)
		return
	}

	switch params.Name {
	case "tether_spawn":
		s.handleSpawn(req, params)
	case "tether_exec":
		s.handleExec(req, params)
	case "tether_list":
		s.handleList(req)
	case "tether_close":
		s.handleClose(req, params)
	default:
		s.log.Warn("unknown tool", "tool", params.Name)
		s.sendError(req.ID, -32602, "Unknown tool", nil)
	}
}

func (s *Server) handleSpawn(req *JSONRPCRequest, params ToolCallParams) {
	id := stringArg(params.Arguments, "session_id")
	shellPath := stringArg(params.Arguments, "shell")
	cwd := stringArg(params.Arguments, "cwd")
	env := envArg(params.Arguments)

	sess, err := s.registry.Create(id, shellPath, cwd, env)
	if err != nil {
		s.log.Warn("spawn failed", "session_id", id, "error", err)
		s.sendToolError(req.ID, err.Error())
		return
	}

	info := sess.Info()
	s.log.Info("session spawned", "session_id", info.SessionID, "shell", info.Shell, "pid", info.PID)
	s.sendToolResult(req.ID, spawnResult{Status: "spawned", Info: info})
}

func (s *Server) handleExec(req *JSONRPCRequest, params ToolCallParams) {
	id := stringArg(params.Arguments, "session_id")
	// An empty command string is legal and round-trips the handshake; only a
	// missing command key is a caller error.
	command, hasCommand := params.Arguments["command"].(string)
	if id == "" || !hasCommand {
		s.sendError(req.ID, -32602, "session_id and command are required", nil)
		return
	}

	timeoutMs := s.defaultTimeoutMs
	if v, ok := params.Arguments["timeout_ms"].(float64); ok && v > 0 {
		timeoutMs = int(v)
	}

	sess, err := s.registry.Get(id)
	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}

	// A session whose shell died is removed on discovery, so callers get a
	// definitive error instead of a handle that never works again.
	if !sess.Alive() {
		s.registry.Close(id)
		s.sendToolError(req.ID, fmt.Sprintf("session %s has died", id))
		return
	}

	result := sess.Execute(command, time.Duration(timeoutMs)*time.Millisecond)
	s.sendToolResult(req.ID, result)
}

func (s *Server) handleList(req *JSONRPCRequest) {
	infos := s.registry.List()
	s.sendToolResult(req.ID, map[string]any{
		"sessions": infos,
		"total":    len(infos),
	})
}

func (s *Server) handleClose(req *JSONRPCRequest, params ToolCallParams) {
	id := stringArg(params.Arguments, "session_id")
	if id == "" {
		s.sendError(req.ID, -32602, "session_id is required", nil)
		return
	}

	sess, err := s.registry.Get(id)
	if err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}
	commands := sess.Info().CommandCount

	if err := s.registry.Close(id); err != nil {
		s.sendToolError(req.ID, err.Error())
		return
	}

	s.log.Info("session closed", "session_id", id)
	s.sendToolResult(req.ID, map[string]any{
		"status":            "closed",
		"session_id":        id,
		"commands_executed": commands,
	})
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// envArg extracts the env override object, keeping only string values.
func envArg(args map[string]any) map[string]string {
	raw, ok := args["env"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env[k] = s
		} else {
			env[k] = fmt.Sprintf("%v", v)
		}
	}
	return env
}

// sendToolResult wraps a payload as a successful tool call whose single
// content item is the payload serialized as JSON text.
func (s *Server) sendToolResult(id any, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to marshal tool payload", "error", err)
		s.sendError(id, -32603, "Internal error", nil)
		return
	}
	s.sendResult(id, ToolCallResult{
		Content: []ContentItem{{Type: "text", Text: string(data)}},
	})
}

// sendToolError reports a tool-level failure in-band: a successful JSON-RPC
// response whose payload carries status "error". Protocol-level failures use
// sendError instead.
func (s *Server) sendToolError(id any, message string) {
	s.sendToolResult(id, map[string]any{
		"status": "error",
		"error":  message,
	})
}

func (s *Server) sendResult(id any, result any) {
	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func (s *Server) sendError(id any, code int, message string, data any) {
	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *Server) send(resp JSONRPCResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}

	if _, err := fmt.Fprintf(s.writer, "%s\n", data); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
