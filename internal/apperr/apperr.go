// Package apperr defines the error taxonomy shared across the orchestration
// core. Internal packages return these kinds; only the HTTP layer maps them
// to status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of HTTP status mapping.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindLicense     Kind = "license_denied"
	KindUnauth      Kind = "agent_unauthenticated"
	KindDependency  Kind = "dependency_unavailable"
	KindInternal    Kind = "internal"
)

// Error is the single wrapper type carrying a Kind and a human-readable
// reason through the stack.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Validation is a convenience constructor for the common case.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound is a convenience constructor for the common case.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Conflict is a convenience constructor for the common case.
func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}
