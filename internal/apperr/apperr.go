package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies failures so transport layers can map them uniformly.
type Code string

const (
	CodeNotFound   Code = "NOT_FOUND"
	CodeForbidden  Code = "FORBIDDEN"
	CodeConflict   Code = "CONFLICT"
	CodeValidation Code = "VALIDATION"
	CodeInternal   Code = "INTERNAL"
)

// Error is the application error carried across service boundaries. The
// Message is safe to show to clients verbatim.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func NotFound(msg string) *Error   { return &Error{Code: CodeNotFound, Message: msg} }
func Forbidden(msg string) *Error  { return &Error{Code: CodeForbidden, Message: msg} }
func Conflict(msg string) *Error   { return &Error{Code: CodeConflict, Message: msg} }
func Validation(msg string) *Error { return &Error{Code: CodeValidation, Message: msg} }
func Internal(msg string) *Error   { return &Error{Code: CodeInternal, Message: msg} }

// IsCode reports whether err is an application error with the given code.
func IsCode(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

// Message returns the client-safe message for err. Unexpected errors get a
// generic message; callers are expected to log the original.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Internal server error"
}

// HTTPStatus maps an error to the status code used by the HTTP surface.
func HTTPStatus(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
