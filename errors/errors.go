// Package errors provides the typed error shapes used across the HTTP
// surface: a Kind-tagged Error for single failures, and a ValidationErrs
// accumulator for request/config validation.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an Error for HTTP-status mapping and log level.
type Kind int

const (
	Other Kind = iota
	Invalid
	NotFound
	AtCapacity
	Internal
)

func (k Kind) httpStatus() int {
	switch k {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case AtCapacity, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed error carrying an HTTP status and an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code this error should be reported as.
func (e *Error) Status() int { return e.Kind.httpStatus() }

// E builds an *Error from a Kind and an underlying error or message.
func E(kind Kind, args ...interface{}) *Error {
	e := &Error{Kind: kind}
	for _, a := range args {
		switch v := a.(type) {
		case string:
			e.Message = v
		case error:
			e.Err = v
		case Kind:
			e.Kind = v
		}
	}
	return e
}

// EmptyParamErr reports a required parameter that was missing or empty.
func EmptyParamErr(name string) *Error {
	return &Error{Kind: Invalid, Message: fmt.Sprintf("%s is required", name)}
}

// AsError unwraps err into an *Error, if it is (or wraps) one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ValidationError accumulates field-level validation failures. A zero value
// is ready to use.
type ValidationError struct {
	fields   []string
	messages []string
}

// ValidationErrs returns a fresh, empty validation accumulator.
func ValidationErrs() *ValidationError {
	return &ValidationError{}
}

// Add records a failure against a field name.
func (v *ValidationError) Add(field, message string) {
	v.fields = append(v.fields, field)
	v.messages = append(v.messages, message)
}

// HasErrors reports whether any field has been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.fields) > 0
}

func (v *ValidationError) Error() string {
	parts := make([]string, len(v.fields))
	for i, f := range v.fields {
		parts[i] = fmt.Sprintf("%s: %s", f, v.messages[i])
	}
	return strings.Join(parts, "; ")
}

// Err returns nil if no field failed, or an *Error describing every
// recorded failure otherwise.
func (v *ValidationError) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return &Error{Kind: Invalid, Message: v.Error()}
}
