// Package apperr holds the error taxonomy surfaced to API callers.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports malformed input.
type ValidationError struct {
	Msg    string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return strings.Join(parts, "; ")
}

// Validation builds a ValidationError with a top level message.
func Validation(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

// Field builds a ValidationError for a single field.
func Field(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Error: msg}}}
}

// Add appends a field error.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Error: msg})
}

// OrNil returns e when it carries any detail and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Msg == "" && len(e.Fields) == 0 {
		return nil
	}
	return e
}

// AuthorizationError reports that the caller's role or ownership is insufficient.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

// Forbidden builds an AuthorizationError.
func Forbidden(msg string) *AuthorizationError {
	return &AuthorizationError{Msg: msg}
}

// NotFoundError reports a missing or invisible resource.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// NotFound builds a NotFoundError.
func NotFound(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflict builds a ConflictError.
func Conflict(msg string) *ConflictError {
	return &ConflictError{Msg: msg}
}

// ErrUnsupportedFormat is returned for report formats without a formatter.
var ErrUnsupportedFormat = &ValidationError{Fields: []FieldError{{Field: "format", Error: "format not supported"}}}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	var (
		verr *ValidationError
		aerr *AuthorizationError
		nerr *NotFoundError
		cerr *ConflictError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &aerr):
		return http.StatusForbidden
	case errors.As(err, &nerr):
		return http.StatusNotFound
	case errors.As(err, &cerr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Fields returns the field-level detail of a validation error, if any.
func Fields(err error) []FieldError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}
