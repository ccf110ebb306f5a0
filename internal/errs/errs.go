// Package errs models the closed set of error kinds the graph substrate
// surfaces to callers: NotFound, InvalidInput, RemoteUnavailable, Conflict,
// and RetentionExpired.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of a closed set of error categories.
type Kind string

const (
	NotFound         Kind = "not_found"
	InvalidInput     Kind = "invalid_input"
	RemoteUnavailable Kind = "remote_unavailable"
	Conflict         Kind = "conflict"
	RetentionExpired Kind = "retention_expired"
)

// Error carries a Kind plus a human-readable message and optional wrapped
// cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is by comparing Kind when the target is also an *Error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NewNotFound(msg string) *Error         { return newErr(NotFound, msg) }
func NewInvalidInput(msg string) *Error     { return newErr(InvalidInput, msg) }
func NewConflict(msg string) *Error         { return newErr(Conflict, msg) }
func NewRetentionExpired(msg string) *Error { return newErr(RetentionExpired, msg) }

// NewRemoteUnavailable wraps a transport-layer cause under the
// RemoteUnavailable kind.
func NewRemoteUnavailable(msg string, cause error) *Error {
	return &Error{Kind: RemoteUnavailable, Message: msg, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
