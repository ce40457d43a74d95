package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing resource or one outside the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller may see the resource but not act on it.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a duplicate or a concurrent-state clash.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates the action is not allowed from the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrBadRequest indicates malformed or semantically invalid input.
	ErrBadRequest = errors.New("bad request")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field level details and unwraps to ErrBadRequest.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrBadRequest.Error(), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrBadRequest.
func (e *ValidationError) Unwrap() error {
	return ErrBadRequest
}

// Invalid builds a single-field validation error.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
