package types

import (
	"context"
	"time"
)

// Depot is the durable store behind the lifecycle engine. Callers attach to
// a backend, use its tables, and detach when done. After Detach every table
// operation returns ErrDetached.
type Depot interface {
	// Attach connects the Depot to the backend described by config.
	// Returns ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent.
	Detach() error

	Residues() ResidueTable
	Requests() RequestTable
	Statuses() StatusTable
}

// ResidueTable owns residues. Claim back-references are set and cleared only
// by RequestTable.Create and RequestTable.Delete, inside their transactions,
// so the residue set of a request and the residues' back-references cannot
// disagree.
type ResidueTable interface {
	// Create validates and stores a new, unclaimed residue.
	Create(ctx context.Context, r NewResidue) (*Residue, error)

	// Get returns the residue with the given id or ErrNotFound.
	Get(ctx context.Context, id int64) (*Residue, error)

	// List returns every residue in insertion order.
	List(ctx context.Context) ([]*Residue, error)

	// Search returns residues whose name or description contains query,
	// ignoring case, in insertion order.
	Search(ctx context.Context, query string) ([]*Residue, error)

	// Delete removes an unclaimed residue. Returns ErrNotFound if absent
	// and ErrConflict if a request claims it.
	Delete(ctx context.Context, id int64) error
}

// RequestTable owns requests, their ordered residue sets, and drives status
// transitions together with the ledger.
type RequestTable interface {
	// Create claims the residues, stores the request in StatusReceived, and
	// appends the initial ledger entry, all in one transaction.
	Create(ctx context.Context, r NewRequest, token string, at time.Time) (*Request, error)

	// Get returns the request with its residues and ledger, or ErrNotFound.
	Get(ctx context.Context, token string) (*Request, error)

	// List returns every request in insertion order.
	List(ctx context.Context) ([]*Request, error)

	// ListByMunicipality returns the requests whose municipality equals
	// name, ignoring case.
	ListByMunicipality(ctx context.Context, name string) ([]*Request, error)

	// Delete releases the request's residues, removes its ledger, and
	// removes the request. Returns ErrNotFound if absent.
	Delete(ctx context.Context, token string) error

	// Transition applies action through the transition table and appends a
	// ledger entry stamped at, atomically.
	Transition(ctx context.Context, token string, action Action, at time.Time) (*Request, error)

	// TokenExists reports whether a request uses token.
	TokenExists(ctx context.Context, token string) (bool, error)
}

// StatusTable is the read side of the append-only status ledger. Entries are
// written only by RequestTable.Create and RequestTable.Transition.
type StatusTable interface {
	// ListByToken returns the ledger of the request with token in append
	// order. An unknown token yields an empty slice.
	ListByToken(ctx context.Context, token string) ([]StatusEntry, error)

	// ListByTokenAndStatus returns the ledger entries with the given status.
	ListByTokenAndStatus(ctx context.Context, token string, status Status) ([]StatusEntry, error)
}
