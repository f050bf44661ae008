package types

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMunicipalityLen bounds the free-text municipality name.
const MaxMunicipalityLen = 50

// Request is a collection-service request. Token is the only external
// handle; ID is internal to the backend. Residues is fixed at creation.
// Statuses is the request's ledger in append order.
type Request struct {
	ID           int64
	Token        string
	Municipality string
	Datetime     time.Time
	Status       Status
	Residues     []Residue
	Statuses     []StatusEntry
}

// ResidueIDs returns the ids of the request's residues in request order.
func (r *Request) ResidueIDs() []int64 {
	ids := make([]int64, len(r.Residues))
	for i, res := range r.Residues {
		ids[i] = res.ID
	}
	return ids
}

// LastEntry returns the most recent ledger entry, or false when the ledger
// was not loaded.
func (r *Request) LastEntry() (StatusEntry, bool) {
	if len(r.Statuses) == 0 {
		return StatusEntry{}, false
	}
	return r.Statuses[len(r.Statuses)-1], true
}

// NewRequest carries the caller-supplied fields for creating a request.
type NewRequest struct {
	Municipality string
	Datetime     time.Time
	ResidueIDs   []int64
}

// Validate checks the request fields. Errors wrap ErrValidation.
func (n NewRequest) Validate() error {
	m := strings.TrimSpace(n.Municipality)
	if m == "" {
		return fmt.Errorf("%w: municipality must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(m) > MaxMunicipalityLen {
		return fmt.Errorf("%w: municipality exceeds %d characters", ErrValidation, MaxMunicipalityLen)
	}
	if n.Datetime.IsZero() {
		return fmt.Errorf("%w: datetime must be set", ErrValidation)
	}
	if len(n.ResidueIDs) == 0 {
		return fmt.Errorf("%w: a request needs at least one residue", ErrValidation)
	}
	seen := make(map[int64]bool, len(n.ResidueIDs))
	for _, id := range n.ResidueIDs {
		if id <= 0 {
			return fmt.Errorf("%w: invalid residue id %d", ErrValidation, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: residue %d listed more than once", ErrValidation, id)
		}
		seen[id] = true
	}
	return nil
}

// StatusEntry is an immutable ledger record of a request's status at a
// point in time.
type StatusEntry struct {
	ID           int64
	RequestToken string
	Status       Status
	Timestamp    time.Time
}
