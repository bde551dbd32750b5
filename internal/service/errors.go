package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Match them with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient error")
)

// Error carries a kind, a caller-facing reason and an optional cause.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Code maps an error to the short code used on the wire.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "transient"
	}
}

// Reason returns the caller-facing text of err without internal causes.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "temporarily unavailable"
}

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

func forbidden(reason string) error {
	return &Error{Kind: ErrForbidden, Reason: reason}
}

func notFound(reason string) error {
	return &Error{Kind: ErrNotFound, Reason: reason}
}

func transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Reason: op + " failed", Err: err}
}
