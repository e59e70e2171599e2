package gitsource

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Repository errors
	ErrInvalidRepository = errors.New("invalid repository")

	// Fetch errors
	ErrCloneFailed     = errors.New("git clone failed")
	ErrPackageNotFound = errors.New("package not found in repository")
	ErrDownloadFailed  = errors.New("package download failed")
)

// FetchError wraps git source failures with context.
type FetchError struct {
	Repository string // Repository name
	Op         string // Operation that failed
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Repository != "" {
		return fmt.Sprintf("%s repository %s: %s", e.Op, e.Repository, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(repository, op, message string, err error) *FetchError {
	return &FetchError{
		Repository: repository,
		Op:         op,
		Message:    message,
		Err:        err,
	}
}
