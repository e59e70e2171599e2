package catalog

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrPackageNotFound = errors.New("package not found in catalog")
	ErrLoadFailed      = errors.New("package load failed")
)

// CatalogError wraps catalog access failures with context.
type CatalogError struct {
	Package string // Package being loaded
	Path    string // Filesystem path involved
	Message string
	Err     error
}

func (e *CatalogError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("package %s: %s", e.Package, e.Message)
	}
	return e.Message
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// NewCatalogError creates a new CatalogError.
func NewCatalogError(pkg, path, message string, err error) *CatalogError {
	return &CatalogError{
		Package: pkg,
		Path:    path,
		Message: message,
		Err:     err,
	}
}
