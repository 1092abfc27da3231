// Package apierr defines the typed error kinds the engine and admission
// service return, and maps them to HTTP status codes per the error
// handling table.
package apierr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for HTTP status mapping.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindValidation    Kind = "validation_error"
	KindStateConflict Kind = "state_conflict"
	KindInternal      Kind = "internal_error"
)

// Error is a typed, user-facing error with a short human-readable detail.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is allows errors.Is(err, apierr.NotFound("")) style comparisons by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }
func Unauthorized(msg string) *Error  { return &Error{Kind: KindUnauthorized, Message: msg} }
func Forbidden(msg string) *Error     { return &Error{Kind: KindForbidden, Message: msg} }
func Validation(msg string) *Error    { return &Error{Kind: KindValidation, Message: msg} }
func StateConflict(msg string) *Error { return &Error{Kind: KindStateConflict, Message: msg} }
func Internal(msg string) *Error      { return &Error{Kind: KindInternal, Message: msg} }

// StatusCode maps an error to its HTTP status, per spec §7. Errors that are
// not *Error map to 500.
func StatusCode(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindStateConflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
