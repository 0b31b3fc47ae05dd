// Package errx provides the typed error used across the API. Every error carries a
// machine readable code, a coarse type and the HTTP status it should be rendered with.
package errx

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

// Type classifies an error independently of the domain that raised it.
type Type string

const (
	TypeValidation    Type = "VALIDATION"
	TypeNotFound      Type = "NOT_FOUND"
	TypeConflict      Type = "CONFLICT"
	TypeAuthorization Type = "AUTHORIZATION"
	TypeBusiness      Type = "BUSINESS"
	TypeInternal      Type = "INTERNAL"
	TypeExternal      Type = "EXTERNAL"
	TypeRateLimit     Type = "RATE_LIMIT"
)

// Error is the error value returned by services and rendered by the global error handler.
type Error struct {
	Type       Type           `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by code, so errors.Is works against registry constructors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail returns a copy of e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := e.clone()
	cp.Details[key] = value
	return cp
}

// WithDetails returns a copy of e with every entry of details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := e.clone()
	maps.Copy(cp.Details, details)
	return cp
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := e.clone()
	cp.Err = err
	return cp
}

func (e *Error) clone() *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	maps.Copy(cp.Details, e.Details)
	return &cp
}

// New creates an error of the given type with a status derived from the type.
func New(message string, t Type) *Error {
	return &Error{
		Type:       t,
		Code:       string(t),
		Message:    message,
		HTTPStatus: StatusFor(t),
		Details:    map[string]any{},
	}
}

// Wrap attaches err as the cause of a new typed error. If err is already an *Error
// it is returned unchanged so the original code survives.
func Wrap(err error, message string, t Type) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	e := New(message, t)
	e.Err = err
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == string(code)
}

// IsType reports whether err is an *Error of type t.
func IsType(err error, t Type) bool {
	e, ok := As(err)
	return ok && e.Type == t
}

// StatusFor maps a type to its default HTTP status.
func StatusFor(t Type) int {
	switch t {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeAuthorization:
		return http.StatusForbidden
	case TypeBusiness:
		return http.StatusUnprocessableEntity
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
