// Package values contains pure functions for building, merging and querying
// configuration value trees. This is part of the Functional Core - all
// functions are pure with no I/O.
package values

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Parsing errors
	ErrInvalidValues = errors.New("invalid values data")

	// Required-key errors
	ErrMissingRequiredValue = errors.New("required value is missing")
)

// MissingValueError reports a required value path that is absent or null.
type MissingValueError struct {
	Key string // dotted path, e.g. "db.password"
	Err error
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("required value %q is missing or null", e.Key)
}

func (e *MissingValueError) Unwrap() error {
	return e.Err
}

// NewMissingValueError creates a new MissingValueError.
func NewMissingValueError(key string) *MissingValueError {
	return &MissingValueError{
		Key: key,
		Err: ErrMissingRequiredValue,
	}
}
