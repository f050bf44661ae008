// Package sqlite implements the SQL storage backend for zeromonos. The
// default engine is embedded SQLite with JSONL files as the source of
// truth; the same tables also run on PostgreSQL through the pgx driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// dbFileName is the SQLite cache rebuilt from JSONL on every Attach.
const dbFileName = "zeromonos.db"

// timeLayout is the fixed-width UTC layout used for every stored timestamp.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Compile-time interface check.
var _ types.Depot = (*Backend)(nil)

// Backend implements types.Depot on top of database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dialect  *dialect
	db       *sql.DB

	// writeMu serializes write transactions and the JSONL rewrite that
	// follows their commit, for dialects with serialWrites.
	writeMu sync.Mutex

	residues *residuesTable
	requests *requestsTable
	statuses *statusesTable

	// now stamps created_at columns.
	now func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewBackend creates a new backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	b := &Backend{now: time.Now}
	b.residues = &residuesTable{backend: b}
	b.requests = &requestsTable{backend: b}
	b.statuses = &statusesTable{backend: b}
	return b
}

// Residues returns the residue table accessor.
func (b *Backend) Residues() types.ResidueTable { return b.residues }

// Requests returns the request table accessor.
func (b *Backend) Requests() types.RequestTable { return b.requests }

// Statuses returns the status ledger accessor.
func (b *Backend) Statuses() types.StatusTable { return b.statuses }

// Attach initializes the backend with the given configuration.
// For SQLite it creates DataDir if needed, rebuilds the database from the
// JSONL files, and creates missing JSONL files. For PostgreSQL it connects
// and applies the idempotent DDL.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}
	d, err := dialectFor(config.Backend)
	if err != nil {
		return err
	}

	var db *sql.DB
	switch d.name {
	case types.BackendSQLite:
		db, err = openSQLite(&config)
	default:
		db, err = openPostgres(config)
	}
	if err != nil {
		return err
	}

	for _, stmt := range d.ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	if d.jsonl {
		if err := initJSONLFiles(config.DataDir); err != nil {
			db.Close()
			return err
		}
		if err := loadAllJSONL(db, config.DataDir); err != nil {
			db.Close()
			return fmt.Errorf("load JSONL: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.dialect = d
	b.attached = true
	return nil
}

// openSQLite prepares DataDir and opens a fresh database file in it.
func openSQLite(config *types.Config) (*sql.DB, error) {
	if config.DataDir == "" {
		config.DataDir = "."
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, err
	}

	// The database is a cache of the JSONL files; start from scratch.
	dbPath := filepath.Join(config.DataDir, dbFileName)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}

	db, err := sql.Open(sqliteDialect.driver, sqliteDSN(dbPath, config.BusyTimeout()))
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openPostgres connects through the pgx stdlib driver.
func openPostgres(config types.Config) (*sql.DB, error) {
	db, err := sql.Open(postgresDialect.driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Detach releases all resources held by the backend.
// After Detach, all table operations return ErrDetached. Idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	// Let an in-flight write finish its JSONL rewrite.
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// conn returns the open database and its dialect, or ErrDetached.
func (b *Backend) conn() (*sql.DB, *dialect, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, nil, types.ErrDetached
	}
	return b.db, b.dialect, nil
}

// update runs fn inside a write transaction. After a successful commit the
// JSONL files of the named tables are rewritten (SQLite only). A failing fn
// rolls everything back.
func (b *Backend) update(ctx context.Context, tables []string, fn func(tx *sql.Tx, d *dialect) error) error {
	db, d, err := b.conn()
	if err != nil {
		return err
	}
	if d.serialWrites {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx, d); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	if d.jsonl {
		for _, table := range tables {
			if err := persistTableJSONL(ctx, db, b.config.DataDir, table); err != nil {
				return fmt.Errorf("persisting %s: %w", table, err)
			}
		}
	}
	return nil
}

// view runs fn inside a read transaction so that multi-statement reads see
// one committed snapshot.
func (b *Backend) view(ctx context.Context, fn func(q querier, d *dialect) error) error {
	db, d, err := b.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx, d); err != nil {
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
