// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/busbridge/busbridge/pkg/bus"
	"github.com/busbridge/busbridge/pkg/discovery"
	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/inspector"
	"github.com/busbridge/busbridge/pkg/knowledge"
)

const maxFileReadBytes = 1 << 20

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// BuiltinDeps carries the shared components the builtin tools operate on.
type BuiltinDeps struct {
	Conns     []bus.Conn
	Discovery *discovery.Engine
	Inspector *inspector.Inspector
	Knowledge *knowledge.Base

	// Run substitutes the subprocess runner in tests; nil uses exec.
	Run commandRunner
}

// RegisterBuiltins installs the standard tool set.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	run := deps.Run
	if run == nil {
		run = execRunner
	}

	tools := []Tool{
		fileReadTool(),
		processListTool(run),
		networkInterfacesTool(run),
		systemdStatusTool(run),
		systemdControlTool(run),
		execCommandTool(run),
		systemShutdownTool(run),
	}
	if deps.Discovery != nil {
		tools = append(tools, busDiscoverTool(deps.Discovery, deps.Conns))
	}
	if deps.Inspector != nil {
		tools = append(tools, inspectObjectTool(deps.Inspector))
	}
	if deps.Knowledge != nil {
		tools = append(tools, knowledgeQueryTool(deps.Knowledge))
	}

	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func fileReadTool() Tool {
	return NewTool(Metadata{
		Name:          "file_read",
		Description:   "Read a file from the local filesystem",
		Category:      "system",
		SecurityLevel: SecurityLow,
	}, objectSchema(map[string]interface{}{
		"path": prop("string", "Absolute path of the file to read"),
	}, "path"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		path, _ := params["path"].(string)
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.New(errors.CodeNotFound, "file not readable", err).WithContext("path", path)
		}
		if info.Size() > maxFileReadBytes {
			return nil, errors.Newf(errors.CodeInvalidParams, "file exceeds the %d byte read limit", maxFileReadBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "file read failed", err).WithContext("path", path)
		}
		return TextResult(string(data)), nil
	})
}

func processListTool(run commandRunner) Tool {
	return NewTool(Metadata{
		Name:          "process_list",
		Description:   "List running processes",
		Category:      "system",
		SecurityLevel: SecurityLow,
	}, objectSchema(map[string]interface{}{}), func(ctx context.Context, _ map[string]interface{}) (*ToolResult, error) {
		out, err := run(ctx, "ps", "axo", "pid,user,pcpu,pmem,comm")
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "process listing failed", err)
		}
		return TextResult(string(out)), nil
	})
}

func networkInterfacesTool(run commandRunner) Tool {
	return NewTool(Metadata{
		Name:          "network_interfaces",
		Description:   "List network interfaces and their addresses",
		Category:      "network",
		SecurityLevel: SecurityLow,
	}, objectSchema(map[string]interface{}{}), func(ctx context.Context, _ map[string]interface{}) (*ToolResult, error) {
		out, err := run(ctx, "ip", "-json", "addr", "show")
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "interface listing failed", err)
		}
		var decoded interface{}
		if err := json.Unmarshal(out, &decoded); err != nil {
			return nil, errors.New(errors.CodeParseError, "interface listing decode failed", err)
		}
		return JSONResult(decoded), nil
	})
}

func systemdStatusTool(run commandRunner) Tool {
	return NewTool(Metadata{
		Name:          "systemd_status",
		Description:   "Show the state of a service unit",
		Category:      "system",
		SecurityLevel: SecurityMedium,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"unit": prop("string", "Unit name, e.g. sshd"),
	}, "unit"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		unit, _ := params["unit"].(string)
		out, err := run(ctx, "systemctl", "show", unit, "--property=ActiveState,SubState,LoadState,Description")
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "unit status query failed", err).WithContext("unit", unit)
		}
		return TextResult(string(out)), nil
	})
}

var controlActions = map[string]bool{"start": true, "stop": true, "restart": true, "reload": true}

func systemdControlTool(run commandRunner) Tool {
	return NewTool(Metadata{
		Name:          "systemd_control",
		Description:   "Start, stop, restart, or reload a service unit",
		Category:      "system",
		SecurityLevel: SecurityHigh,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"unit":   prop("string", "Unit name"),
		"action": prop("string", "One of start, stop, restart, reload"),
	}, "unit", "action"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		unit, _ := params["unit"].(string)
		action, _ := params["action"].(string)
		if !controlActions[action] {
			return nil, errors.Newf(errors.CodeInvalidParams, "unsupported action %q", action)
		}
		if _, err := run(ctx, "systemctl", action, unit); err != nil {
			return nil, errors.New(errors.CodeInternal, "unit control failed", err).
				WithContext("unit", unit).
				WithContext("action", action)
		}
		return TextResult(action + " issued for " + unit), nil
	})
}

func execCommandTool(run commandRunner) Tool {
	return NewTool(Metadata{
		Name:          "exec_command",
		Description:   "Run an allow-listed system command",
		Category:      "system",
		SecurityLevel: SecurityCritical,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"command": prop("string", "Binary to run; must be on the allow-list"),
		"args":    prop("array", "Command arguments"),
	}, "command"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		command, _ := params["command"].(string)
		// The security middleware already gates this; the handler checks
		// again so the tool is safe even if invoked directly.
		if !execAllowList[command] {
			return nil, errors.Newf(errors.CodePermissionDenied, "command %q not in the allowed list", command)
		}
		var args []string
		if raw, ok := params["args"].([]interface{}); ok {
			for _, item := range raw {
				if s, ok := item.(string); ok {
					args = append(args, s)
				}
			}
		}
		out, err := run(ctx, command, args...)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "command failed", err).WithContext("command", command)
		}
		return TextResult(string(out)), nil
	})
}

func systemShutdownTool(run commandRunner) Tool {
	return NewTool(Metadata{
		Name:          "system_shutdown",
		Description:   "Power the machine off",
		Category:      "system",
		SecurityLevel: SecurityCritical,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"confirmed": prop("boolean", "Must be true to proceed"),
	}, "confirmed"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		// Confirmation is enforced by the critical-operation validator
		// before the handler runs.
		if _, err := run(ctx, "systemctl", "poweroff"); err != nil {
			return nil, errors.New(errors.CodeInternal, "shutdown failed", err)
		}
		return TextResult("shutdown initiated"), nil
	})
}

func busDiscoverTool(engine *discovery.Engine, conns []bus.Conn) Tool {
	return NewTool(Metadata{
		Name:          "bus_discover",
		Description:   "Sweep the configured buses and map every service, object, and interface",
		Category:      "dbus",
		SecurityLevel: SecurityMedium,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{}), func(ctx context.Context, _ map[string]interface{}) (*ToolResult, error) {
		report := engine.Discover(ctx, conns...)
		return JSONResult(report), nil
	})
}

func inspectObjectTool(insp *inspector.Inspector) Tool {
	return NewTool(Metadata{
		Name:          "inspect_object",
		Description:   "Infer a schema from a file, container, URL, or raw payload",
		Category:      "inspection",
		SecurityLevel: SecurityMedium,
		RequiresAuth:  true,
	}, objectSchema(map[string]interface{}{
		"kind":        prop("string", "Source kind: file, docker, raw_data, or url"),
		"name":        prop("string", "File path, container name, description, or URL"),
		"data":        prop("string", "Inline payload for raw_data and url sources"),
		"format_hint": prop("string", "Optional declared format"),
	}, "kind", "name"), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		kind, _ := params["kind"].(string)
		name, _ := params["name"].(string)
		data, _ := params["data"].(string)
		hint, _ := params["format_hint"].(string)

		result, err := insp.Inspect(ctx, inspector.Input{
			Kind:       kind,
			Name:       name,
			FormatHint: hint,
			Data:       []byte(data),
		})
		if err != nil {
			return nil, err
		}
		return JSONResult(result), nil
	})
}

func knowledgeQueryTool(kb *knowledge.Base) Tool {
	return NewTool(Metadata{
		Name:          "knowledge_query",
		Description:   "Look up inferred schema definitions by name, or list all entries",
		Category:      "inspection",
		SecurityLevel: SecurityLow,
	}, objectSchema(map[string]interface{}{
		"name": prop("string", "Entry name; omit to list all"),
	}), func(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
		name, _ := params["name"].(string)
		if name == "" {
			return JSONResult(map[string]interface{}{"entries": kb.Names()}), nil
		}
		def, ok := kb.Get(name)
		if !ok {
			return nil, errors.Newf(errors.CodeNotFound, "no knowledge base entry named %q", name)
		}
		return JSONResult(def), nil
	})
}
