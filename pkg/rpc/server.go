// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc exposes the tool registry over JSON-RPC 2.0 on HTTP. The same
// endpoint also accepts the legacy flat {action: ...} request shape.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/registry"
	"github.com/busbridge/busbridge/pkg/resilience"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "busbridge"
	serverVersion   = "1.0.0"
)

// Server is the JSON-RPC binding for the tool registry.
type Server struct {
	registry *registry.Registry
	log      *slog.Logger
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout bounds each tools/call execution. Zero disables the
// bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates the server.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		log:      slog.Default(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`

	// Legacy flat shape fields.
	Action     string          `json:"action,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Message    string          `json:"message,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServeHTTP handles one JSON-RPC 2.0 or legacy flat request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, rpcError{Code: -32700, Message: "parse error"})
		return
	}

	sec := securityContextFrom(r)
	s.log.Debug("rpc request", "method", req.Method, "action", req.Action, "user", sec.UserID)

	if req.JSONRPC != "2.0" {
		if req.Action != "" {
			s.handleLegacy(w, r, req, sec)
			return
		}
		writeError(w, req.ID, rpcError{Code: -32600, Message: "invalid request"})
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(r.Context(), w, req, sec)
	case "introspect":
		writeResult(w, req.ID, s.registry.Introspect())
	default:
		writeError(w, req.ID, rpcError{Code: -32601, Message: "method not found: " + req.Method})
	}
}

// securityContextFrom derives the per-call identity from request headers.
// Authentication itself is the deployment's concern (reverse proxy, socket
// permissions); the server trusts the forwarded identity headers.
func securityContextFrom(r *http.Request) registry.SecurityContext {
	sec := registry.SecurityContext{
		UserID:    r.Header.Get("X-Busbridge-User"),
		SessionID: r.Header.Get("X-Busbridge-Session"),
	}
	if sec.UserID != "" {
		sec.Authenticated = true
	}
	if perms := r.Header.Get("X-Busbridge-Permissions"); perms != "" {
		for _, p := range strings.Split(perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				sec.Permissions = append(sec.Permissions, p)
			}
		}
	}
	return sec
}

func (s *Server) handleInitialize(w http.ResponseWriter, req rpcRequest) {
	writeResult(w, req.ID, map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"list": true, "call": true},
		},
		"serverInfo": map[string]interface{}{
			"name":        serverName,
			"version":     serverVersion,
			"description": "System bus discovery, inspection, and state tooling",
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, req rpcRequest) {
	descriptors := s.registry.List()
	tools := make([]map[string]interface{}, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, map[string]interface{}{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": d.InputSchema,
		})
	}
	writeResult(w, req.ID, map[string]interface{}{"tools": tools})
}

func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, req rpcRequest, sec registry.SecurityContext) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if len(req.Params) == 0 {
		writeError(w, req.ID, rpcError{Code: -32602, Message: "missing params"})
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(w, req.ID, rpcError{Code: -32602, Message: err.Error()})
		return
	}
	if params.Name == "" {
		writeError(w, req.ID, rpcError{Code: -32602, Message: "missing tool name"})
		return
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	result, err := s.execute(ctx, params.Name, params.Arguments, sec)
	if err != nil {
		writeToolError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

// execute runs one tool call under the request timeout.
func (s *Server) execute(ctx context.Context, name string, args map[string]interface{}, sec registry.SecurityContext) (*registry.ToolResult, error) {
	if s.timeout <= 0 {
		return s.registry.Execute(ctx, name, args, sec)
	}
	value, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: s.timeout, ErrorOnTimeout: true}, func() (interface{}, error) {
		return s.registry.Execute(ctx, name, args, sec)
	})
	if err != nil {
		return nil, err
	}
	result, _ := value.(*registry.ToolResult)
	return result, nil
}

func (s *Server) handleLegacy(w http.ResponseWriter, r *http.Request, req rpcRequest, sec registry.SecurityContext) {
	writeLegacy := func(payload map[string]interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}

	switch req.Action {
	case "list_tools":
		writeLegacy(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"tools": s.registry.List()},
		})
	case "execute_tool":
		if req.Tool == "" || len(req.Parameters) == 0 {
			writeLegacy(map[string]interface{}{"success": false, "error": "missing tool name or parameters"})
			return
		}
		var args map[string]interface{}
		if err := json.Unmarshal(req.Parameters, &args); err != nil {
			writeLegacy(map[string]interface{}{"success": false, "error": "parameters must be an object"})
			return
		}
		result, err := s.execute(r.Context(), req.Tool, args, sec)
		if err != nil {
			writeLegacy(map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		writeLegacy(map[string]interface{}{"success": true, "data": result})
	case "send_message":
		if req.Message == "" {
			writeLegacy(map[string]interface{}{"success": false, "error": "missing message"})
			return
		}
		// The flat shape is kept for old callers; conversational routing
		// needs a chat backend this server does not carry.
		writeLegacy(map[string]interface{}{"success": false, "error": "no chat backend configured"})
	default:
		writeLegacy(map[string]interface{}{"success": false, "error": "Unknown action"})
	}
}

func writeResult(w http.ResponseWriter, id any, result any) {
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// writeToolError maps the internal error taxonomy onto JSON-RPC codes.
func writeToolError(w http.ResponseWriter, id any, err error) {
	typed := errors.As(err)
	e := rpcError{Code: errors.RPCCode(typed.Code), Message: err.Error()}
	if len(typed.Context) > 0 {
		e.Data = typed.Context
	}
	writeError(w, id, e)
}

func writeError(w http.ResponseWriter, id any, e rpcError) {
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: &e})
}

func writeJSON(w http.ResponseWriter, payload rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
