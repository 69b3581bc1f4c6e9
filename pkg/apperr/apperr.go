// Package apperr defines the error taxonomy shared by every coordinator
// operation: NotFound, Conflict, Validation, Forbidden and Internal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers deciding whether to re-fetch and retry.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindValidation Kind = "VALIDATION"
	KindForbidden  Kind = "FORBIDDEN"
	KindInternal   Kind = "INTERNAL"
)

// Error is the concrete error type returned by services and repositories.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrStale is returned by a repository when a guarded update lost the
// compare-and-set on the record version. The transactor retries on it.
var ErrStale = &Error{Kind: KindConflict, Message: "record was modified concurrently"}

// ID adapts a plain string key, such as a crew member id or call sign, for NotFound.
type ID string

func (id ID) String() string { return string(id) }

func NotFound(entity string, id fmt.Stringer) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsStale reports whether err is (or wraps) ErrStale.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// StatusCode maps an error to the HTTP status used by the handlers.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
