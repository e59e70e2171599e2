package swarm

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrNotSwarmManager  = errors.New("docker host is not a swarm manager")

	// Deployment errors
	ErrApplyFailed        = errors.New("stack apply failed")
	ErrRemoveFailed       = errors.New("stack removal failed")
	ErrConfigNotFound     = errors.New("config not found")
	ErrConvergenceTimeout = errors.New("services did not converge in time")
)

// ApplyError wraps cluster operation failures with context.
type ApplyError struct {
	Op       string // Operation that failed
	Stack    string // Stack being operated on
	Resource string // Resource name if applicable
	Message  string
	Err      error
}

func (e *ApplyError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s stack %s: %s: %s", e.Op, e.Stack, e.Resource, e.Message)
	}
	if e.Stack != "" {
		return fmt.Sprintf("%s stack %s: %s", e.Op, e.Stack, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// NewApplyError creates a new ApplyError.
func NewApplyError(op, stack, resource, message string, err error) *ApplyError {
	return &ApplyError{
		Op:       op,
		Stack:    stack,
		Resource: resource,
		Message:  message,
		Err:      err,
	}
}
