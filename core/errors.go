// Package core provides the prompt data model and the error taxonomy shared by
// every component of the prompt manager.
package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every validation failure produced by the engine wraps
// exactly one of them.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
)

// Error codes reported to callers.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL"
)

// Error is a classified engine error. Entity names the missing thing for
// NOT_FOUND, Field names the offending input for BAD_REQUEST.
type Error struct {
	Kind    error
	Entity  string
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrNotFound) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFound reports a missing (or invisible) entity, e.g. NotFound("prompt").
func NotFound(entity string) *Error {
	return &Error{Kind: ErrNotFound, Entity: entity, Message: entity + " not found"}
}

// BadRequest reports invalid input for field.
func BadRequest(field, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrBadRequest, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Code maps err onto the error taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// ValidationError carries field-level validation context for rendering input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap classifies validation failures as bad requests.
func (e *ValidationError) Unwrap() error {
	return ErrBadRequest
}
