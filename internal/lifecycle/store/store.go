// Package store persists manifest records and their lifecycle events. One
// record per manifest keyed by access key; one record per event keyed by
// (access key, sequence). Implementations must make Transition a
// compare-and-swap so the service's optimistic commit stays sound when several
// processes share the store.
package store

import (
	"context"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/manifest"
)

// Store is the persistence boundary the lifecycle service depends on.
// Implementations return pkg/platform/sentinel errors for infrastructure
// facts: ErrNotFound for missing records, ErrConflict for duplicate keys and
// lost compare-and-swaps.
type Store interface {
	// Create persists a new manifest. ErrConflict when the access key exists.
	Create(ctx context.Context, m *manifest.Manifest) error

	// Find loads a manifest by access key. ErrNotFound when absent.
	Find(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error)

	// ListByStatus returns all manifests currently in the given status.
	ListByStatus(ctx context.Context, status manifest.Status) ([]*manifest.Manifest, error)

	// Transition atomically moves a manifest from one status to another,
	// applying update to the record inside the same commit. ErrConflict when
	// the stored status no longer equals from — the caller lost the race and
	// must re-read.
	Transition(ctx context.Context, key accesskey.Key, from, to manifest.Status, update func(*manifest.Manifest)) error

	// Update applies a mutation that does not change status (attempt history,
	// poll bookkeeping). ErrNotFound when absent.
	Update(ctx context.Context, key accesskey.Key, update func(*manifest.Manifest)) error

	// NextNumber allocates the next document number for a series.
	NextNumber(ctx context.Context, series int) (int, error)

	// SaveEvent persists a lifecycle event. ErrConflict on a duplicate
	// (access key, sequence) pair.
	SaveEvent(ctx context.Context, ev *manifest.LifecycleEvent) error

	// UpdateEvent replaces a persisted event's mutable fields (status,
	// protocol, attempts). ErrNotFound when absent.
	UpdateEvent(ctx context.Context, ev *manifest.LifecycleEvent) error

	// ListEvents returns a manifest's events ordered by sequence number.
	ListEvents(ctx context.Context, key accesskey.Key) ([]*manifest.LifecycleEvent, error)
}
