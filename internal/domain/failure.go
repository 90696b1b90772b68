package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind classifies why a tool call or request did not succeed.
type FailureKind string

const (
	FailureUnknownTool       FailureKind = "unknown_tool"
	FailureProtocolViolation FailureKind = "protocol_violation"
	FailureRemoteError       FailureKind = "remote_error"
	FailureTimeout           FailureKind = "timeout"
	FailureBudgetExceeded    FailureKind = "budget_exceeded"
	// FailureEngineError means no reasoning engine produced a response.
	FailureEngineError FailureKind = "engine_error"
)

// Failure is returned as data, never thrown. Detail holds the raw remote
// payload (error object, HTTP body) when there is one.
type Failure struct {
	Kind    FailureKind     `json:"kind"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`

	cause error
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a raw payload and returns f.
func (f *Failure) WithDetail(detail json.RawMessage) *Failure {
	if len(detail) > 0 {
		f.Detail = append(json.RawMessage(nil), detail...)
	}
	return f
}

// WithCause records the underlying error so errors.Is and errors.As see
// through f, and returns f. The cause is not serialized.
func (f *Failure) WithCause(err error) *Failure {
	f.cause = err
	return f
}

// Unwrap returns the cause set by WithCause.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.cause
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if len(f.Detail) > 0 {
		return fmt.Sprintf("%s: %s: %s", f.Kind, f.Message, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// AsFailure extracts a *Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == kind
}
