// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/telemetry"
)

// Call is the invocation context handed to middleware.
type Call struct {
	Tool     string
	Metadata Metadata
	Params   map[string]interface{}
	Security SecurityContext
}

// Middleware observes and can gate tool execution. Before runs in
// registration order and may fail the call; After is observation only and
// cannot alter the outcome.
type Middleware interface {
	Before(ctx context.Context, call *Call) error
	After(ctx context.Context, call *Call, result *ToolResult, err error)
}

// CriticalValidator is an extra per-tool check for Critical operations.
type CriticalValidator func(params map[string]interface{}) error

// SecurityMiddleware enforces the declared security level of each tool.
type SecurityMiddleware struct {
	mu         sync.RWMutex
	validators map[string]CriticalValidator
	log        *slog.Logger
}

// NewSecurityMiddleware creates the middleware with the default critical
// validators for command execution and shutdown.
func NewSecurityMiddleware(log *slog.Logger) *SecurityMiddleware {
	if log == nil {
		log = slog.Default()
	}
	m := &SecurityMiddleware{
		validators: make(map[string]CriticalValidator),
		log:        log,
	}
	m.SetCriticalValidator("exec_command", validateExecCommand)
	m.SetCriticalValidator("system_shutdown", validateShutdownConfirmed)
	return m
}

// SetCriticalValidator installs the extra check run for one Critical tool.
func (m *SecurityMiddleware) SetCriticalValidator(tool string, v CriticalValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[tool] = v
}

func (m *SecurityMiddleware) Before(ctx context.Context, call *Call) error {
	level := call.Metadata.SecurityLevel
	denied := func(msg string) error {
		return errors.New(errors.CodePermissionDenied, msg, nil).
			WithContext("tool", call.Tool).
			WithContext("security_level", string(level))
	}

	switch level {
	case SecurityLow, "":
		// No check.
	case SecurityMedium:
		if !call.Security.Authenticated {
			return denied("authentication required")
		}
	case SecurityHigh:
		if !call.Security.Authenticated {
			return denied("authentication required")
		}
		if !call.Security.HasPermission("admin") {
			return denied("admin permission required")
		}
	case SecurityCritical:
		if !call.Security.Authenticated {
			return denied("authentication required")
		}
		if !call.Security.HasPermission("super-admin") {
			return denied("super-admin permission required")
		}
		m.mu.RLock()
		validator := m.validators[call.Tool]
		m.mu.RUnlock()
		if validator != nil {
			if err := validator(call.Params); err != nil {
				return errors.New(errors.CodePermissionDenied, err.Error(), nil).
					WithContext("tool", call.Tool)
			}
		}
	default:
		return denied("unknown security level")
	}

	m.log.Debug("security check passed", "tool", call.Tool, "level", level)
	return nil
}

func (m *SecurityMiddleware) After(ctx context.Context, call *Call, result *ToolResult, err error) {}

// execAllowList is the fixed set of binaries exec_command may run.
var execAllowList = map[string]bool{
	"systemctl":  true,
	"journalctl": true,
	"ip":         true,
	"ovs-vsctl":  true,
}

func validateExecCommand(params map[string]interface{}) error {
	command, _ := params["command"].(string)
	if !execAllowList[command] {
		return errors.Newf(errors.CodePermissionDenied, "command %q not in the allowed list for critical operations", command)
	}
	return nil
}

func validateShutdownConfirmed(params map[string]interface{}) error {
	if confirmed, _ := params["confirmed"].(bool); !confirmed {
		return errors.New(errors.CodePermissionDenied, "system shutdown requires explicit confirmation", nil)
	}
	return nil
}

// AuditEntry is one audit trail record.
type AuditEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Tool      string        `json:"tool"`
	UserID    string        `json:"user_id,omitempty"`
	Level     SecurityLevel `json:"security_level"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const auditCapacity = 1000

// AuditMiddleware records every High/Critical call, success or failure, in
// a bounded in-memory trail.
type AuditMiddleware struct {
	mu      sync.Mutex
	entries []AuditEntry
	log     *slog.Logger
}

// NewAuditMiddleware creates the middleware.
func NewAuditMiddleware(log *slog.Logger) *AuditMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &AuditMiddleware{log: log}
}

func (m *AuditMiddleware) Before(ctx context.Context, call *Call) error { return nil }

func (m *AuditMiddleware) After(ctx context.Context, call *Call, result *ToolResult, err error) {
	level := call.Metadata.SecurityLevel
	if level.rank() < SecurityHigh.rank() {
		return
	}

	entry := AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Tool:      call.Tool,
		UserID:    call.Security.UserID,
		Level:     level,
		Success:   err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	if len(m.entries) > auditCapacity {
		m.entries = m.entries[len(m.entries)-auditCapacity:]
	}
	m.mu.Unlock()

	m.log.Warn("audit",
		"tool", call.Tool,
		"user", call.Security.UserID,
		"level", level,
		"success", entry.Success,
		"error", entry.Error)

	if metrics, merr := telemetry.GetMetrics(); merr == nil {
		metrics.RecordAuditEntry(ctx, string(level))
	}
}

// Entries returns a copy of the current audit trail, oldest first.
func (m *AuditMiddleware) Entries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// LoggingMiddleware logs every call with its duration.
type LoggingMiddleware struct {
	log *slog.Logger

	mu     sync.Mutex
	starts map[*Call]time.Time
}

// NewLoggingMiddleware creates the middleware.
func NewLoggingMiddleware(log *slog.Logger) *LoggingMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingMiddleware{log: log, starts: make(map[*Call]time.Time)}
}

func (m *LoggingMiddleware) Before(ctx context.Context, call *Call) error {
	m.mu.Lock()
	m.starts[call] = time.Now()
	m.mu.Unlock()
	m.log.Info("tool call started", "tool", call.Tool, "user", call.Security.UserID)
	return nil
}

func (m *LoggingMiddleware) After(ctx context.Context, call *Call, result *ToolResult, err error) {
	m.mu.Lock()
	start, ok := m.starts[call]
	delete(m.starts, call)
	m.mu.Unlock()

	elapsed := time.Duration(0)
	if ok {
		elapsed = time.Since(start)
	}
	if err != nil {
		m.log.Error("tool call failed", "tool", call.Tool, "elapsed", elapsed, "error", err)
		return
	}
	m.log.Info("tool call finished", "tool", call.Tool, "elapsed", elapsed)
}
