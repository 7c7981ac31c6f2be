package core

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when a task ID is unknown to the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrScheduleNotFound is returned when a schedule ID is unknown to the store.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// ValidationError reports a malformed task creation request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
