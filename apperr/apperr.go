// Package apperr classifies errors by the HTTP status a caller should see.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error carrying the status code it should surface with.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given status and message.
func New(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a status to err. A nil err yields nil.
func Wrap(status int, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Status: status, Message: fmt.Sprintf(format, args...), Err: err}
}

// BadRequest reports a client-fault error (validation, malformed input).
func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

// NotFound reports a missing package, extension or record.
func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

// Forbidden reports an operation not permitted on the target.
func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...any) error {
	return Wrap(http.StatusInternalServerError, err, format, args...)
}

// StatusOf returns the status carried by err, or 500 for unclassified errors.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given status.
func Is(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}
