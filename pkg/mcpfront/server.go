// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcpfront exposes the tool registry to MCP clients over stdio.
package mcpfront

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/busbridge/busbridge/pkg/registry"
)

// Server wraps the mcp-go server around the tool registry.
type Server struct {
	mcpServer *server.MCPServer
	registry  *registry.Registry
	security  registry.SecurityContext
}

// Option configures a Server.
type Option func(*Server)

// WithSecurityContext sets the identity every stdio call runs under. A stdio
// transport has no per-request headers, so the whole session shares one.
func WithSecurityContext(sec registry.SecurityContext) Option {
	return func(s *Server) { s.security = sec }
}

// NewServer creates an MCP server exposing every tool currently registered.
func NewServer(name, version string, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		registry:  reg,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, d := range reg.List() {
		s.addTool(d)
	}
	return s
}

func (s *Server) addTool(d registry.Descriptor) {
	schema, err := json.Marshal(d.InputSchema)
	if err != nil {
		schema = []byte(`{"type":"object"}`)
	}
	tool := mcp.NewToolWithRawSchema(d.Name, d.Description, schema)

	name := d.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		}
		result, err := s.registry.Execute(ctx, name, args, s.security)
		if err != nil {
			// Execution failures travel as tool results, not protocol errors.
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toCallToolResult(result), nil
	})
}

// toCallToolResult converts a registry result into the MCP wire shape. Data
// blocks are serialized to JSON text since MCP content is text-first.
func toCallToolResult(result *registry.ToolResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{}
	if result == nil {
		return out
	}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, mcp.NewTextContent(block.Text))
		default:
			encoded, err := json.Marshal(block.Data)
			if err != nil {
				encoded = []byte(`null`)
			}
			out.Content = append(out.Content, mcp.NewTextContent(string(encoded)))
		}
	}
	return out
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
