// Package apperror defines the error taxonomy shared by the settlement core.
//
// Domain packages declare sentinel errors with one of the constructors below
// and callers classify them with KindOf or errors.Is.
package apperror

import (
	"context"
	"errors"
)

// Kind classifies an error for propagation and boundary mapping.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindAuthorization      Kind = "authorization_error"
	KindStateConflict      Kind = "state_conflict"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindNotFound           Kind = "not_found"
	KindConcurrencyTimeout Kind = "concurrency_timeout"
	KindInternal           Kind = "internal_error"
)

// Error is a classified error with a stable machine code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && e.Code == other.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func Authorization(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindStateConflict, code, message)
}

func InsufficientStock(code, message string) *Error {
	return New(KindInsufficientStock, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func ConcurrencyTimeout(code, message string) *Error {
	return New(KindConcurrencyTimeout, code, message)
}

// Wrap attaches a cause to a sentinel while keeping its kind and code.
func Wrap(sentinel *Error, cause error) *Error {
	if sentinel == nil {
		return nil
	}
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Err:     cause,
	}
}

// WithMessage returns a copy of the sentinel carrying a more specific message.
func WithMessage(sentinel *Error, message string) *Error {
	if sentinel == nil {
		return nil
	}
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: message,
		Err:     sentinel.Err,
	}
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConcurrencyTimeout
	}
	return KindInternal
}

// CodeOf returns the machine code of err, or the kind when none is set.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Code != "" {
			return appErr.Code
		}
		return string(appErr.Kind)
	}
	return string(KindOf(err))
}

// Retryable reports whether a caller may safely retry the operation.
func Retryable(err error) bool {
	return KindOf(err) == KindConcurrencyTimeout
}
