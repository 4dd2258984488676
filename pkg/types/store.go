package types

import (
	"context"
	"errors"
)

// PersistentStore is the backend-agnostic object store that contexts save
// into. Callers attach to a backend, read and commit records, and detach
// when done.
type PersistentStore interface {
	// Attach connects the store to the backend described by config.
	// Returns ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, operations return ErrStoreDetached.
	Detach() error

	// Get returns the record of the given entity with the given ID.
	// Returns ErrNotFound if no such record exists.
	Get(ctx context.Context, entity, id string) (*Record, error)

	// Fetch returns the records matching the request.
	Fetch(ctx context.Context, req FetchRequest) ([]*Record, error)

	// Count returns how many records match the request, ignoring paging.
	Count(ctx context.Context, req FetchRequest) (int, error)

	// Commit applies a change set atomically.
	Commit(ctx context.Context, changes ChangeSet) error
}

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)
