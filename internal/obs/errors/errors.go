// Package errors provides the typed-error taxonomy of spec.md §7,
// trimmed from the teacher's RFC-7807/HTTP-specific error package
// (pkg/errors/rfc7807.go) down to the Kind vocabulary the core needs:
// no HTTP transport is in scope, so status codes and JSON rendering
// are dropped.
package errors

import (
	"errors"
	"fmt"
)

// Standard library re-exports so callers need only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Kind is the closed taxonomy of error categories from spec.md §7.
type Kind string

const (
	Validation  Kind = "validation"
	NotFound    Kind = "not_found"
	Forbidden   Kind = "forbidden"
	Conflict    Kind = "conflict"
	RateLimit   Kind = "rate_limit"
	Transient   Kind = "transient"
	FatalInit   Kind = "fatal_init"
)

// Error is a typed failure carrying a Kind, human message, and optional
// structured fields for the caller-facing detail (e.g. validator
// messages, risk failedChecks).
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField attaches a structured field and returns the same error for
// chaining.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to Transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}
