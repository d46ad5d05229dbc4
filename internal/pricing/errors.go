package pricing

import (
	"errors"
	"fmt"
)

var (
	ErrDatesMissing     = errors.New("check-in and check-out dates are required")
	ErrEndNotAfterStart = errors.New("check-out must be after check-in")
	ErrStartInPast      = errors.New("check-in cannot be in the past")
	ErrInvalidDate      = errors.New("invalid date")
)

// ValidationError is a field-level input problem. It is recoverable and meant to be
// shown next to the offending field.
type ValidationError struct {
	Field   string
	Code    string
	Message string
	Min     int
	Max     int
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidInputError reports a violated precondition of a price computation.
type InvalidInputError struct {
	Param  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func dateError(field, code string, err error) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: err.Error(), Err: err}
}
