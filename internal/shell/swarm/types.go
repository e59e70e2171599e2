// Package swarm applies rendered stacks to a Docker Swarm cluster.
package swarm

import (
	"context"
	"time"

	"github.com/siavashoutadi/pishro-lib/internal/core/compose"
)

// =============================================================================
// Client Interface
// =============================================================================

// Client is the interface for applying stacks to a Swarm cluster.
type Client interface {
	// Ping verifies the Docker host is reachable and is a Swarm manager.
	Ping(ctx context.Context) error

	// Deploy creates or updates all resources of a stack: networks, configs
	// and services. Services no longer present in the spec are pruned.
	Deploy(ctx context.Context, deployment Deployment) error

	// Remove deletes all resources labeled as belonging to the stack.
	// Removing a stack that does not exist is not an error.
	Remove(ctx context.Context, stack string) error

	// Wait blocks until every service of the stack reports as many running
	// tasks as desired, the timeout elapses, or the context is canceled.
	Wait(ctx context.Context, stack string, opts WaitOptions) error

	// Close releases the underlying connection.
	Close() error
}

// =============================================================================
// Deployment Types
// =============================================================================

// Deployment is everything needed to apply one stack to the cluster.
type Deployment struct {
	// Stack is the target stack name. All created resources carry it in
	// the com.docker.stack.namespace label.
	Stack string

	// Spec is the parsed stack file.
	Spec *compose.StackSpec

	// Configs are cluster configs to create before services start. Each is
	// created as "<stack>-<name>" and never updated once it exists.
	Configs []ConfigPayload

	// RegistryAuth is a base64 encoded auth config passed through to service
	// create and update so nodes can pull from private registries. Empty
	// means none.
	RegistryAuth string
}

// ConfigPayload is the content for one cluster config.
type ConfigPayload struct {
	Name    string
	Content []byte
}

// WaitOptions controls convergence waiting.
type WaitOptions struct {
	// Timeout is the maximum time to wait for all services to converge.
	// Default: 5 minutes.
	Timeout time.Duration

	// Interval is the time between convergence checks.
	// Default: 5 seconds.
	Interval time.Duration
}

const (
	// DefaultWaitTimeout matches the longest rolling update we expect.
	DefaultWaitTimeout = 5 * time.Minute

	// DefaultWaitInterval is the poll interval for convergence checks.
	DefaultWaitInterval = 5 * time.Second
)

// Normalize fills in defaults for unset options.
func (o WaitOptions) Normalize() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultWaitInterval
	}
	return o
}
