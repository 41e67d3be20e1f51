// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds every invokable tool, runs the authorization and
// audit middleware pipeline around execution, and answers the consolidated
// introspection query.
package registry

import "context"

// SecurityLevel governs what authorization a tool invocation requires.
type SecurityLevel string

const (
	// SecurityLow covers read-only operations; no check.
	SecurityLow SecurityLevel = "low"
	// SecurityMedium requires an authenticated caller.
	SecurityMedium SecurityLevel = "medium"
	// SecurityHigh requires authentication plus the admin permission.
	SecurityHigh SecurityLevel = "high"
	// SecurityCritical requires authentication, the super-admin permission,
	// and a per-tool critical-operation validator.
	SecurityCritical SecurityLevel = "critical"
)

// rank orders levels for comparisons.
func (l SecurityLevel) rank() int {
	switch l {
	case SecurityMedium:
		return 1
	case SecurityHigh:
		return 2
	case SecurityCritical:
		return 3
	default:
		return 0
	}
}

// SecurityContext is the per-call identity. It lives only for the call.
type SecurityContext struct {
	UserID        string   `json:"user_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	Authenticated bool     `json:"authenticated"`
	Permissions   []string `json:"permissions,omitempty"`
}

// HasPermission reports whether the context carries a permission.
func (c SecurityContext) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Metadata describes a tool for listings and the security middleware.
type Metadata struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Category      string        `json:"category"`
	Tags          []string      `json:"tags,omitempty"`
	Version       string        `json:"version"`
	SecurityLevel SecurityLevel `json:"security_level"`
	RequiresAuth  bool          `json:"requires_auth"`
}

// Tool is a named, schema-validated, securely invokable unit.
type Tool interface {
	Name() string
	Description() string

	// InputSchema returns the JSON-schema shaped parameter description.
	InputSchema() map[string]interface{}

	Metadata() Metadata

	Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error)
}

// Factory lazily creates a tool on first call; the result is cached and
// thereafter indistinguishable from a static registration.
type Factory interface {
	ToolName() string
	CreateTool() (Tool, error)
}

// ToolResult is what a tool hands back to the caller.
type ToolResult struct {
	Content  []ToolContent          `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToolContent is one result item.
type ToolContent struct {
	Type string      `json:"type"`
	Text string      `json:"text,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// TextResult wraps a plain-text result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

// JSONResult wraps a structured result.
func JSONResult(data interface{}) *ToolResult {
	return &ToolResult{Content: []ToolContent{{Type: "json", Data: data}}}
}

// funcTool adapts a handler function to the Tool interface.
type funcTool struct {
	meta    Metadata
	schema  map[string]interface{}
	handler func(ctx context.Context, params map[string]interface{}) (*ToolResult, error)
}

// NewTool builds a tool from a metadata block, schema, and handler.
func NewTool(meta Metadata, schema map[string]interface{},
	handler func(ctx context.Context, params map[string]interface{}) (*ToolResult, error)) Tool {
	if meta.Version == "" {
		meta.Version = "1.0.0"
	}
	if meta.Category == "" {
		meta.Category = "general"
	}
	return &funcTool{meta: meta, schema: schema, handler: handler}
}

func (t *funcTool) Name() string                        { return t.meta.Name }
func (t *funcTool) Description() string                 { return t.meta.Description }
func (t *funcTool) InputSchema() map[string]interface{} { return t.schema }
func (t *funcTool) Metadata() Metadata                  { return t.meta }

func (t *funcTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	return t.handler(ctx, params)
}

// objectSchema builds a JSON-schema object description.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}
