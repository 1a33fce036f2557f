package apperror

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can pick a recovery path
type Kind string

const (
	KindPermissionDenied  Kind = "permission_denied"
	KindUnavailable       Kind = "unavailable"
	KindTimeout           Kind = "timeout"
	KindNotFound          Kind = "not_found"
	KindAlreadyTaken      Kind = "already_taken"
	KindNetworkError      Kind = "network_error"
	KindValidation        Kind = "validation_error"
	KindInvalidTransition Kind = "invalid_transition"
	KindInternal          Kind = "internal_error"
)

// Error is a typed failure carrying the operation that produced it
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.ErrAlreadyTaken) works
// for wrapped errors built with New or Wrap. An invalid transition also matches ErrValidation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Op != "" || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind || (t.Kind == KindValidation && e.Kind == KindInvalidTransition)
}

// Sentinels for errors.Is comparisons
var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAlreadyTaken      = &Error{Kind: KindAlreadyTaken}
	ErrNetwork           = &Error{Kind: KindNetworkError}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
)

// New builds a typed error
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err. Context deadline errors map to timeout, unknown errors to internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
