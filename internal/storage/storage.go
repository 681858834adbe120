package storage

import (
	"context"
	"errors"

	"github.com/parkspot/tracker/pkg/core"
)

// ErrNotFound is returned when a record id is not in the store.
var ErrNotFound = errors.New("location not found")

// Backend is the interface all storage implementations must satisfy.
// GetAll returns records most-recent-first (by Timestamp, newest insert
// breaking ties). All writes are durable once the call returns.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	GetAll(ctx context.Context) ([]core.LocationRecord, error)
	Get(ctx context.Context, id string) (core.LocationRecord, error)

	// Save inserts rec or replaces the record with the same id.
	Save(ctx context.Context, rec core.LocationRecord) error
	// Update merges patch into the stored record and returns the result.
	Update(ctx context.Context, id string, patch core.Patch) (core.LocationRecord, error)
	Delete(ctx context.Context, id string) error
}

// Snapshotter is an optional interface for backends that keep a file on
// disk suitable for off-site backup.
type Snapshotter interface {
	// Snapshot flushes pending state and returns the path of a consistent
	// copy of the store.
	Snapshot(ctx context.Context) (string, error)
}
