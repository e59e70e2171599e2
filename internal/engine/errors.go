package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrPartialDeployment marks a plan that failed after some steps were
	// already applied to the cluster.
	ErrPartialDeployment = errors.New("deployment partially completed")
)

// PartialDeploymentError reports how far a plan got before a step failed.
// Completed steps stay applied; there is no automatic rollback.
type PartialDeploymentError struct {
	PlanID    string
	Completed []string // packages applied before the failure
	Failed    string   // package whose step failed
	Remaining []string // packages never attempted
	Err       error
}

func (e *PartialDeploymentError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s: step for %s failed", e.PlanID, e.Failed)
	if len(e.Completed) > 0 {
		fmt.Fprintf(&b, " after %s completed", strings.Join(e.Completed, ", "))
	}
	if len(e.Remaining) > 0 {
		fmt.Fprintf(&b, "; not attempted: %s", strings.Join(e.Remaining, ", "))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *PartialDeploymentError) Unwrap() []error {
	return []error{ErrPartialDeployment, e.Err}
}

// NewPartialDeploymentError creates a new PartialDeploymentError.
func NewPartialDeploymentError(planID string, completed []string, failed string, remaining []string, err error) *PartialDeploymentError {
	return &PartialDeploymentError{
		PlanID:    planID,
		Completed: completed,
		Failed:    failed,
		Remaining: remaining,
		Err:       err,
	}
}
