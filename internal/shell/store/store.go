package store

import (
	"context"
	"time"

	"github.com/siavashoutadi/pishro-lib/internal/core/state"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for installed-package state. Every
// mutating call is durable when it returns: callers rely on per-step flushes
// rather than batched writes.
type Store interface {
	// Installed package records
	CreateRecord(ctx context.Context, record *state.Record) error
	GetRecord(ctx context.Context, name string) (*state.Record, error)
	UpdateRecord(ctx context.Context, record *state.Record) error
	DeleteRecord(ctx context.Context, name string) error
	ListRecords(ctx context.Context, opts ListOptions) ([]state.Record, error)
	ListRecordsByStatus(ctx context.Context, status state.Status) ([]state.Record, error)

	// Audit events
	CreateEvent(ctx context.Context, event *state.Event) error
	ListEvents(ctx context.Context, packageName string, limit int) ([]state.Event, error)

	// Exclusive lock. AcquireLock fails fast with ErrLocked when another
	// holder owns an unexpired lease; expired leases are taken over.
	AcquireLock(ctx context.Context, holder string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, holder string) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
