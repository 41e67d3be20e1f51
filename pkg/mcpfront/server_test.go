// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package mcpfront

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/busbridge/busbridge/pkg/registry"
)

func TestToCallToolResultTextAndData(t *testing.T) {
	result := &registry.ToolResult{Content: []registry.ToolContent{
		{Type: "text", Text: "hello"},
		{Type: "json", Data: map[string]interface{}{"ok": true}},
	}}

	converted := toCallToolResult(result)
	if len(converted.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(converted.Content))
	}
	first, ok := converted.Content[0].(mcp.TextContent)
	if !ok || first.Text != "hello" {
		t.Fatalf("unexpected first block %#v", converted.Content[0])
	}
	second, ok := converted.Content[1].(mcp.TextContent)
	if !ok || second.Text != `{"ok":true}` {
		t.Fatalf("unexpected second block %#v", converted.Content[1])
	}
}

func TestToCallToolResultNil(t *testing.T) {
	converted := toCallToolResult(nil)
	if len(converted.Content) != 0 {
		t.Fatalf("expected empty result, got %#v", converted)
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	reg := registry.New(nil)
	tool := registry.NewTool(registry.Metadata{
		Name:          "ping",
		Description:   "Reply with pong",
		Category:      "test",
		SecurityLevel: registry.SecurityLow,
	}, map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		func(ctx context.Context, _ map[string]interface{}) (*registry.ToolResult, error) {
			return registry.TextResult("pong"), nil
		})
	if err := reg.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	s := NewServer("busbridge", "test", reg)
	if s.mcpServer == nil {
		t.Fatal("mcp server not initialized")
	}
}
