// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeDiscoveryPartial, "introspection failed", cause)

	msg := err.Error()
	if !strings.Contains(msg, "DISCOVERY_PARTIAL") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(CodeInternal, "handler failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestAs(t *testing.T) {
	typed := New(CodePermissionDenied, "denied", nil)
	if As(typed) != typed {
		t.Error("As should return typed errors unchanged")
	}

	wrapped := As(stderrors.New("plain"))
	if wrapped.Code != CodeInternal {
		t.Errorf("untyped errors should wrap as internal, got %s", wrapped.Code)
	}

	if As(nil) != nil {
		t.Error("As(nil) should be nil")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"typed", New(CodeNotFound, "missing", nil), CodeNotFound},
		{"untyped", stderrors.New("plain"), CodeInternal},
		{"nil", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Code(tc.err); got != tc.want {
				t.Errorf("Code() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRPCCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeNotFound, -32601},
		{CodeInvalidParams, -32602},
		{CodeParseError, -32700},
		{CodeInternal, -32603},
		{CodePermissionDenied, -32000},
		{CodeInspectionExhausted, -32000},
	}
	for _, tc := range tests {
		if got := RPCCode(tc.code); got != tc.want {
			t.Errorf("RPCCode(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeInvalidParams, "schema mismatch", nil).
		WithContext("tool", "plugin_demo_apply").
		WithRecoverable(true)

	if err.Context["tool"] != "plugin_demo_apply" {
		t.Error("context value not recorded")
	}
	if !err.Recoverable {
		t.Error("recoverable flag not set")
	}
}
