package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to react differently to
// bad input, unreachable backends, unknown ids, and misuse of a stateful API.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindTransport    Kind = "transport"
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
)

// Error is a typed error carrying a Kind and an optional HTTP status.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below match any error of their kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrTransport    = &Error{Kind: KindTransport, Message: "transport failed"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Message: "invalid state"}
)

// Validation returns a validation error with a formatted message.
func Validation(format string, a ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, a...)}
}

// NotFound returns a not-found error describing cause. Only cause's text and
// HTTP status are kept: a not-found error never matches ErrTransport, even
// when the backend's 404 reached us as a transport error.
func NotFound(message string, cause error) *Error {
	e := &Error{Kind: KindNotFound, Message: message}
	if cause == nil {
		return e
	}
	e.Message = fmt.Sprintf("%s: %v", message, cause)
	var withStatus interface{ StatusCode() int }
	if errors.As(cause, &withStatus) {
		e.HTTPStatus = withStatus.StatusCode()
	}
	return e
}

// InvalidState returns an error for an operation attempted in the wrong state.
func InvalidState(format string, a ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, a...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
// Errors that only match a sentinel through their own Is method (such as
// transport errors) are reported by that sentinel's kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, s := range []*Error{ErrTransport, ErrValidation, ErrNotFound, ErrInvalidState} {
		if errors.Is(err, s) {
			return s.Kind
		}
	}
	return ""
}
