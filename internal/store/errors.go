package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the story id is unknown (or not visible to the caller).
	ErrNotFound = errors.New("story not found")

	// ErrInvalidState means the requested transition is not allowed from the
	// story's current status. Nothing was mutated.
	ErrInvalidState = errors.New("transition not allowed from current status")
)

// ValidationError rejects bad input at creation or finalization.
// The story is not created/transitioned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
