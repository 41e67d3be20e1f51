// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/plugin"
	"github.com/busbridge/busbridge/pkg/telemetry"
)

// Registry is the long-lived tool map: read-often, mutated-rarely.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	factories  map[string]Factory
	categories map[string][]string
	middleware []Middleware
	plugins    []plugin.Descriptor

	log *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools:      make(map[string]Tool),
		factories:  make(map[string]Factory),
		categories: make(map[string][]string),
		log:        log,
	}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(tool)
}

func (r *Registry) registerLocked(tool Tool) error {
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return errors.Newf(errors.CodeInvalidParams, "tool %q is already registered", name)
	}
	r.tools[name] = tool
	category := tool.Metadata().Category
	r.categories[category] = append(r.categories[category], name)
	return nil
}

// RegisterFactory adds a lazy tool source.
func (r *Registry) RegisterFactory(factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := factory.ToolName()
	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.CodeInvalidParams, "tool factory %q is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Use appends a middleware; Before hooks run in registration order.
func (r *Registry) Use(m Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, m)
}

// resolve finds a tool, instantiating and caching from its factory on first
// use.
func (r *Registry) resolve(name string) (Tool, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if ok {
		return tool, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have won the race.
	if tool, ok := r.tools[name]; ok {
		return tool, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "tool %q not found", name)
	}
	created, err := factory.CreateTool()
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "tool factory failed", err).
			WithContext("tool", name)
	}
	if err := r.registerLocked(created); err != nil {
		return nil, err
	}
	return created, nil
}

// Execute runs the full invocation pipeline: resolve, before middleware,
// parameter validation, handler, after middleware.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}, sec SecurityContext) (*ToolResult, error) {
	start := time.Now()
	tool, err := r.resolve(name)
	if err != nil {
		return nil, err
	}

	call := &Call{
		Tool:     name,
		Metadata: tool.Metadata(),
		Params:   params,
		Security: sec,
	}

	r.mu.RLock()
	middleware := make([]Middleware, len(r.middleware))
	copy(middleware, r.middleware)
	r.mu.RUnlock()

	runAfter := func(result *ToolResult, err error) {
		for _, m := range middleware {
			m.After(ctx, call, result, err)
		}
		if metrics, merr := telemetry.GetMetrics(); merr == nil {
			metrics.RecordToolExecution(ctx, name, time.Since(start).Seconds(), err)
		}
	}

	for _, m := range middleware {
		if err := m.Before(ctx, call); err != nil {
			// A failed gate is still an observable outcome; the handler
			// never runs.
			runAfter(nil, err)
			return nil, err
		}
	}

	if err := validateParams(tool.InputSchema(), params); err != nil {
		runAfter(nil, err)
		return nil, err
	}

	result, err := tool.Execute(ctx, params)
	runAfter(result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Descriptor is the list()/introspect() view of one tool.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Metadata    Metadata               `json:"metadata"`
}

// List returns every registered tool sorted by name. Factories that have
// not been exercised yet are listed from their name alone.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, Descriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
			Metadata:    tool.Metadata(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Categories lists the known tool categories sorted by name.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.categories))
	for category := range r.categories {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// workflows are the built-in multi-tool sequences surfaced in the
// consolidated introspection document.
var workflows = []map[string]interface{}{
	{"name": "bus_audit", "description": "Sweep all buses, inspect unknown services, report schema coverage"},
	{"name": "service_health", "description": "Query service state, diff against a baseline, report drift"},
	{"name": "state_reconcile", "description": "Diff and apply a desired state across registered plugins"},
}

// Introspect returns the single consolidated discovery document: tools,
// categories, workflows, and state plugins.
func (r *Registry) Introspect() map[string]interface{} {
	tools := r.List()
	toolViews := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		toolViews = append(toolViews, map[string]interface{}{
			"name":           t.Name,
			"description":    t.Description,
			"schema":         t.InputSchema,
			"security_level": t.Metadata.SecurityLevel,
			"requires_auth":  t.Metadata.RequiresAuth,
			"category":       t.Metadata.Category,
		})
	}

	r.mu.RLock()
	plugins := make([]plugin.Descriptor, len(r.plugins))
	copy(plugins, r.plugins)
	r.mu.RUnlock()

	return map[string]interface{}{
		"timestamp":     time.Now().Unix(),
		"type":          "unified_system_introspection",
		"total_tools":   len(tools),
		"categories":    r.Categories(),
		"tools":         toolViews,
		"workflows":     workflows,
		"state_plugins": plugins,
	}
}

// RegisterPlugin bridges a state plugin into exactly three tools:
// plugin_X_query, plugin_X_diff, plugin_X_apply.
func (r *Registry) RegisterPlugin(p plugin.Plugin) error {
	name := p.Name()

	query := NewTool(Metadata{
		Name:          fmt.Sprintf("plugin_%s_query", name),
		Description:   fmt.Sprintf("Query the current state of the %s plugin", name),
		Category:      "state_plugins",
		SecurityLevel: SecurityMedium,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{}), func(ctx context.Context, _ map[string]interface{}) (*ToolResult, error) {
		state, err := p.GetState(ctx)
		if err != nil {
			return nil, err
		}
		return JSONResult(state), nil
	})

	diff := NewTool(Metadata{
		Name:          fmt.Sprintf("plugin_%s_diff", name),
		Description:   fmt.Sprintf("Diff the %s plugin's current state against a desired state", name),
		Category:      "state_plugins",
		SecurityLevel: SecurityMedium,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"desired": prop("object", "Desired state to compare against"),
	}, "desired"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		desired, _ := params["desired"].(map[string]interface{})
		current, err := p.GetState(ctx)
		if err != nil {
			return nil, err
		}
		changes, err := p.Diff(ctx, current, desired)
		if err != nil {
			return nil, err
		}
		return JSONResult(map[string]interface{}{"changes": changes}), nil
	})

	apply := NewTool(Metadata{
		Name:          fmt.Sprintf("plugin_%s_apply", name),
		Description:   fmt.Sprintf("Apply a desired state through the %s plugin", name),
		Category:      "state_plugins",
		SecurityLevel: SecurityHigh,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"desired": prop("object", "Desired state to apply"),
	}, "desired"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		desired, _ := params["desired"].(map[string]interface{})
		if err := p.ApplyState(ctx, desired); err != nil {
			// Surfaced verbatim so the caller can judge retry safety.
			return nil, err
		}
		return TextResult("state applied"), nil
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tool := range []Tool{query, diff, apply} {
		if err := r.registerLocked(tool); err != nil {
			return err
		}
	}
	r.plugins = append(r.plugins, plugin.Describe(p))
	r.log.Info("state plugin registered", "plugin", name)
	return nil
}

// validateParams checks params against the declared JSON schema: required
// keys must be present and typed properties must match.
func validateParams(schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := params[key]; !present {
				return errors.Newf(errors.CodeInvalidParams, "missing required parameter %q", key)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, item := range required {
			key, _ := item.(string)
			if _, present := params[key]; key != "" && !present {
				return errors.Newf(errors.CodeInvalidParams, "missing required parameter %q", key)
			}
		}
	}

	properties, _ := schema["properties"].(map[string]interface{})
	for key, raw := range properties {
		value, present := params[key]
		if !present {
			continue
		}
		decl, _ := raw.(map[string]interface{})
		declared, _ := decl["type"].(string)
		if declared == "" {
			continue
		}
		if actual := jsonType(value); actual != declared && !(declared == "number" && actual == "integer") {
			return errors.Newf(errors.CodeInvalidParams, "parameter %q: expected %s, got %s", key, declared, actual)
		}
	}
	return nil
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32:
		return "number"
	case int, int32, int64, uint, uint32, uint64:
		return "integer"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
