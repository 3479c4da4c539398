// Package errs defines the closed error taxonomy shared by every subcog
// component, wrapping with fmt.Errorf("...: %w", err) but attaching a
// stable Kind so callers can branch on failure class instead of
// string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of error classes.
type Kind string

const (
	InvalidInput     Kind = "invalid_input"
	Unauthorized     Kind = "unauthorized"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	SecretsDetected  Kind = "secrets_detected"
	OperationFailed  Kind = "operation_failed"
	FeatureNotEnabled Kind = "feature_not_enabled"
	Timeout          Kind = "timeout"
	// Configuration marks a required configuration value that was missing
	// or invalid for the request being served — a missing Org backend
	// config for an Org-scoped request is a typed error, never a silent
	// fallback.
	Configuration Kind = "configuration"
)

// Error is the typed error carried across every service boundary.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "capture.persist".
	Op string
	// Operation is the external dependency involved, populated for OperationFailed.
	Operation string
	Cause error
}

func (e *Error) Error() string {
	cause := sanitizeCause(e.Cause)
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Op, e.Kind, e.Operation, cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// sanitizeCause strips causes that are too long or look like they embed
// secrets/PII before they reach a log line or error string.
func sanitizeCause(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 200 {
		return s[:200] + "...[truncated]"
	}
	return s
}

// New constructs a typed error.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Wrap constructs an OperationFailed error naming the external dependency.
func Wrap(op, operation string, cause error) *Error {
	return &Error{Kind: OperationFailed, Op: op, Operation: operation, Cause: cause}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
