// Package state defines the installed-package records tracked by the state
// store and their status state machine. This is part of the Functional Core -
// all functions are pure with no I/O.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/siavashoutadi/pishro-lib/internal/core/values"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Status
// =============================================================================

// Status is the lifecycle state of an installed package.
type Status string

const (
	StatusInstalling Status = "installing"
	StatusInstalled  Status = "installed"
	StatusUpdating   Status = "updating"
	StatusRemoving   Status = "removing"
	StatusFailed     Status = "failed"
)

// validTransitions defines the allowed status transitions. The empty status
// is a record that does not exist yet; removal success deletes the record
// rather than transitioning it. In-progress statuses allow re-entry so an
// operation interrupted by a crash can be retried.
var validTransitions = map[Status][]Status{
	"":               {StatusInstalling},
	StatusInstalling: {StatusInstalling, StatusInstalled, StatusFailed},
	StatusInstalled:  {StatusUpdating, StatusRemoving},
	StatusUpdating:   {StatusUpdating, StatusInstalled, StatusFailed},
	StatusRemoving:   {StatusRemoving, StatusFailed},
	StatusFailed:     {StatusInstalling, StatusUpdating, StatusRemoving},
}

// ValidateTransition checks if a status transition is allowed.
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// =============================================================================
// Record
// =============================================================================

// Record is the durable state of one installed package. Version, Values and
// ManifestHash always describe the last successfully applied install or
// update; a failed update keeps the previous values.
type Record struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Stack        string        `json:"stack"`
	Environment  string        `json:"environment,omitempty"`
	Values       values.Values `json:"values,omitempty"`
	ManifestHash string        `json:"manifest_hash,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Status       Status        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	InstalledAt  time.Time     `json:"installed_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewRecord creates a record for a package entering installation.
func NewRecord(name, stack, environment string, now time.Time) *Record {
	return &Record{
		Name:        name,
		Stack:       stack,
		Environment: environment,
		Status:      StatusInstalling,
		InstalledAt: now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// Transition moves the record to a new status after validating the change.
func (r *Record) Transition(to Status, now time.Time) error {
	if err := ValidateTransition(r.Status, to); err != nil {
		return err
	}
	r.Status = to
	r.UpdatedAt = now.UTC()
	if to != StatusFailed {
		r.ErrorMessage = ""
	}
	return nil
}

// TransitionToFailed moves the record to failed with an error message. A
// record can fail from any in-progress status.
func (r *Record) TransitionToFailed(message string, now time.Time) error {
	switch r.Status {
	case StatusInstalling, StatusUpdating, StatusRemoving:
		r.Status = StatusFailed
		r.ErrorMessage = message
		r.UpdatedAt = now.UTC()
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
}

// Commit records a successful install or update: the applied version, the
// effective values and the manifest hash become the last known good state.
func (r *Record) Commit(version string, vals values.Values, hash string, deps []string, now time.Time) error {
	if err := r.Transition(StatusInstalled, now); err != nil {
		return err
	}
	r.Version = version
	r.Values = vals
	r.ManifestHash = hash
	r.Dependencies = deps
	return nil
}

// =============================================================================
// Events
// =============================================================================

// Event is one audit entry for a record status change.
type Event struct {
	ID         int64     `json:"id"`
	Package    string    `json:"package"`
	PlanID     string    `json:"plan_id,omitempty"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// =============================================================================
// Naming
// =============================================================================

// StackName derives the cluster stack name for a package. A non-empty prefix
// yields "<prefix>-<package>", otherwise the package name is used directly.
func StackName(prefix, packageName string) string {
	if prefix == "" {
		return packageName
	}
	return fmt.Sprintf("%s-%s", prefix, packageName)
}
