// Package apperr defines the error taxonomy shared by the patient-flow ledgers
// and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a failure so callers can show a specific message instead of
// a generic one.
type Kind string

const (
	KindDuplicateIdentifier Kind = "duplicate_identifier"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindAlreadyAssigned     Kind = "already_assigned"
	KindInvalidTransition   Kind = "invalid_transition"
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation"
	KindInternal            Kind = "internal"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func DuplicateIdentifier(format string, args ...interface{}) *Error {
	return newf(KindDuplicateIdentifier, format, args...)
}

func ResourceUnavailable(format string, args ...interface{}) *Error {
	return newf(KindResourceUnavailable, format, args...)
}

func AlreadyAssigned(format string, args ...interface{}) *Error {
	return newf(KindAlreadyAssigned, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return newf(KindInvalidTransition, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Internal wraps an unexpected failure, typically from the store.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal
// when err carries no classification.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind onto the status code returned to staff clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindDuplicateIdentifier, KindResourceUnavailable, KindAlreadyAssigned, KindInvalidTransition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned to callers.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// HTTPError converts err into an echo.HTTPError that carries its kind. Internal
// errors are reported without their cause.
func HTTPError(err error) *echo.HTTPError {
	kind := KindOf(err)
	msg := "internal server error"
	var ae *Error
	if kind != KindInternal && errors.As(err, &ae) {
		msg = ae.Message
	}
	return echo.NewHTTPError(HTTPStatus(kind), Body{Kind: kind, Message: msg})
}
