// Package sqlite provides the public API for the SQL Depot backend. It
// exposes the factory function while keeping implementation details
// internal. The same backend serves both the embedded SQLite engine and
// PostgreSQL; Config.Backend selects between them.
package sqlite

import (
	"github.com/mesh-intelligence/zeromonos/internal/sqlite"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// NewBackend creates a new backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	depot := sqlite.NewBackend()
//	err := depot.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".zeromonos-db",
//	})
//	defer depot.Detach()
func NewBackend() types.Depot {
	return sqlite.NewBackend()
}
