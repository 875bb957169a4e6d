// Package coreerr defines the tagged-variant error type shared by every
// public operation in the automation core. A single Kind enum replaces the
// ad-hoc fmt.Errorf strings the teacher modules use for control flow, so
// callers (in particular the HTTP layer) can switch on Kind instead of
// string-matching error text.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for status-code mapping and caller handling.
type Kind string

const (
	NotFound          Kind = "not_found"
	PermissionDenied  Kind = "permission_denied"
	InvalidState      Kind = "invalid_state"
	Conflict          Kind = "conflict"
	InsufficientStock Kind = "insufficient_stock"
	ValidationError   Kind = "validation_error"
	Internal          Kind = "internal"
)

// Error is the tagged-variant error every core operation returns.
type Error struct {
	Kind   Kind
	Detail string
	Reason string // short machine-readable sub-code, e.g. "alreadyClaimed"
	cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Detail, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

func new(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Reason: reason}
}

func NotFoundf(format string, args ...any) *Error {
	return new(NotFound, "", format, args...)
}

func PermissionDeniedf(reason, format string, args ...any) *Error {
	return new(PermissionDenied, reason, format, args...)
}

func InvalidStatef(reason, format string, args ...any) *Error {
	return new(InvalidState, reason, format, args...)
}

func Conflictf(reason, format string, args ...any) *Error {
	return new(Conflict, reason, format, args...)
}

func InsufficientStockf(format string, args ...any) *Error {
	return new(InsufficientStock, "", format, args...)
}

func ValidationErrorf(format string, args ...any) *Error {
	return new(ValidationError, "", format, args...)
}

// Internalf wraps an unexpected error. The cause is retained for logging but
// never surfaced through Error() so responses don't leak internals.
func Internalf(cause error, format string, args ...any) *Error {
	e := new(Internal, "", format, args...)
	e.cause = cause
	return e
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to Internal for unrecognised errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
