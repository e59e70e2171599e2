// Package plan contains pure functions for resolving package dependency
// graphs into ordered deployment plans. This is part of the Functional Core -
// all functions are pure with no I/O.
package plan

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Resolution errors
	ErrUnresolvable     = errors.New("unresolvable dependency")
	ErrVersionConflict  = errors.New("version conflict")
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// UnresolvableError reports a requirement that cannot be satisfied from the
// available packages or the installed state.
type UnresolvableError struct {
	Name    string
	Message string
	Err     error
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("package %s: %s", e.Name, e.Message)
}

func (e *UnresolvableError) Unwrap() error {
	return e.Err
}

// NewUnresolvableError creates a new UnresolvableError carrying ErrUnresolvable.
func NewUnresolvableError(name, message string) *UnresolvableError {
	return &UnresolvableError{
		Name:    name,
		Message: message,
		Err:     ErrUnresolvable,
	}
}

// ConflictError reports two requirements on the same package whose version
// constraints disagree about the candidate version.
type ConflictError struct {
	Name   string
	First  string // satisfied constraint with its requester
	Second string // violated constraint with its requester
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("package %s: conflicting version constraints: %s vs %s", e.Name, e.First, e.Second)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError creates a new ConflictError carrying ErrVersionConflict.
func NewConflictError(name, first, second string) *ConflictError {
	return &ConflictError{
		Name:   name,
		First:  first,
		Second: second,
		Err:    ErrVersionConflict,
	}
}

// CycleError reports a dependency cycle. Members holds the cycle in walk
// order; the first member closes the cycle.
type CycleError struct {
	Members []string
	Err     error
}

func (e *CycleError) Error() string {
	chain := append([]string{}, e.Members...)
	if len(e.Members) > 0 {
		chain = append(chain, e.Members[0])
	}
	return fmt.Sprintf("cyclic dependency detected: %s", strings.Join(chain, " -> "))
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// NewCycleError creates a new CycleError carrying ErrCyclicDependency.
func NewCycleError(members []string) *CycleError {
	return &CycleError{
		Members: members,
		Err:     ErrCyclicDependency,
	}
}
