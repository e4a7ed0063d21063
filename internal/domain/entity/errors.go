package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no stored record has the requested identity.
	ErrNotFound = errors.New("record not found")

	// ErrValidationFailed matches every *ValidationError with errors.Is.
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError names the field of a raw record or source entry that
// could not be accepted.
type ValidationError struct {
	Field   string
	Message string
	// Value is the rejected input, when showing it helps.
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error on field '%s': %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// IsValidation reports whether err wraps a *ValidationError. The collector
// counts these per item instead of failing the task.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
