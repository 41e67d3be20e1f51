// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Busbridge.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Busbridge errors for callers and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates a handler or plugin failure wrapping its cause.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeNotFound indicates an unknown tool, plugin, or resource.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidParams indicates parameters that do not match the declared schema.
	CodeInvalidParams ErrorCode = "INVALID_PARAMS"

	// CodePermissionDenied indicates a security middleware rejection.
	// The underlying handler must never run when this is returned.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeParseError indicates a malformed inbound message.
	CodeParseError ErrorCode = "PARSE_ERROR"

	// CodeDiscoveryPartial indicates a service or object could not be
	// introspected. Non-fatal; recorded in-line with the sweep result.
	CodeDiscoveryPartial ErrorCode = "DISCOVERY_PARTIAL"

	// CodeInspectionExhausted indicates every candidate parser failed.
	CodeInspectionExhausted ErrorCode = "INSPECTION_EXHAUSTED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		payload.Err = e.Err.Error()
	}
	return json.Marshal(payload)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// Newf creates a new Error without a cause, formatting the message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert an error to a typed Error.
// Returns the error unchanged if it is one, or wraps it as internal otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*Error); ok {
		return be
	}
	return New(CodeInternal, "wrapped error", err)
}

// Code returns the error code for err, or CodeInternal for untyped errors.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if be, ok := err.(*Error); ok {
		return be.Code
	}
	return CodeInternal
}

// RPCCode maps error codes to JSON-RPC 2.0 error codes.
// Tool-execution failures without a more specific classification map to the
// application code -32000.
func RPCCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return -32601
	case CodeInvalidParams:
		return -32602
	case CodeParseError:
		return -32700
	case CodePermissionDenied:
		return -32000
	case CodeInternal:
		return -32603
	default:
		return -32000
	}
}
