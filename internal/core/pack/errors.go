// Package pack contains pure functions for parsing and validating package
// descriptors and their template sets. This is part of the Functional Core -
// all functions are pure with no I/O.
package pack

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrInvalidPackage marks every descriptor or template validation failure.
	ErrInvalidPackage = errors.New("invalid package")
)

// InvalidPackageError wraps validation failures with the package and field
// they occurred in.
type InvalidPackageError struct {
	Package string // package name if known, may be empty
	Field   string // e.g. "version", "dependencies[0].name", "templates"
	Message string
	Err     error
}

func (e *InvalidPackageError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("package %s: %s: %s", e.Package, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *InvalidPackageError) Unwrap() error {
	return e.Err
}

// NewInvalidPackageError creates a new InvalidPackageError carrying
// ErrInvalidPackage.
func NewInvalidPackageError(pkg, field, message string) *InvalidPackageError {
	return &InvalidPackageError{
		Package: pkg,
		Field:   field,
		Message: message,
		Err:     ErrInvalidPackage,
	}
}
