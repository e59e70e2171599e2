// Package render contains pure functions for rendering package templates into
// deployable manifests. This is part of the Functional Core - all functions
// are pure with no I/O and rendering is deterministic for a given input.
package render

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Rendering errors
	ErrRenderFailed = errors.New("template rendering failed")

	// Manifest structure errors
	ErrNoStackFile        = errors.New("no stack file found")
	ErrMultipleStackFiles = errors.New("both 'stack.yaml' and 'stack.yml' exist, only one is expected")
	ErrInvalidConfigEntry = errors.New("invalid config entry")
)

// RenderError wraps a template failure with the template it occurred in.
type RenderError struct {
	Template string
	Message  string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %s: %s", e.Template, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// NewRenderError creates a new RenderError carrying ErrRenderFailed.
func NewRenderError(template, message string) *RenderError {
	return &RenderError{
		Template: template,
		Message:  message,
		Err:      ErrRenderFailed,
	}
}
