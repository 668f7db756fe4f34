package transport

import (
	"errors"
	"fmt"

	"github.com/joescharf/revu/internal/apperr"
)

// ErrorKind says which stage of a request failed.
type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"  // connection or I/O failure
	KindHTTP     ErrorKind = "http"     // non-2xx response
	KindDecode   ErrorKind = "decode"   // malformed response body
	KindCanceled ErrorKind = "canceled" // context canceled or deadline exceeded
)

// Error is the only error type returned by Client. It matches
// apperr.ErrTransport under errors.Is.
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int // zero unless Kind is KindHTTP
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == apperr.ErrTransport
}

// StatusCode returns the HTTP status, if any.
func (e *Error) StatusCode() int { return e.HTTPStatus }

// IsStatus reports whether err is a transport error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindHTTP && te.HTTPStatus == status
}
