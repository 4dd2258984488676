// Package sqlite provides the public API for the SQLite object store backend.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/internal/sqlite"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Option configures a backend created by NewBackend.
type Option = sqlite.Option

// WithLogger sets the logger used for commit and sync traces.
func WithLogger(logger *zap.Logger) Option {
	return sqlite.WithLogger(logger)
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".larder",
//	})
//	defer backend.Detach()
func NewBackend(opts ...Option) types.PersistentStore {
	return sqlite.NewBackend(opts...)
}
