package sqlite

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

const entrySelect = `SELECT s.id, r.token, s.status, s.timestamp
 FROM statuses s JOIN requests r ON r.id = s.request_id`

// statusesTable implements types.StatusTable over the statuses ledger.
type statusesTable struct {
	backend *Backend
}

var _ types.StatusTable = (*statusesTable)(nil)

func (t *statusesTable) ListByToken(ctx context.Context, token string) ([]types.StatusEntry, error) {
	var out []types.StatusEntry
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		out, err = queryEntries(ctx, q, d.rebind(
			entrySelect+" WHERE r.token = ? ORDER BY s.id"), token)
		return err
	})
	return out, err
}

func (t *statusesTable) ListByTokenAndStatus(ctx context.Context, token string, status types.Status) ([]types.StatusEntry, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, status)
	}
	var out []types.StatusEntry
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		out, err = queryEntries(ctx, q, d.rebind(
			entrySelect+" WHERE r.token = ? AND s.status = ? ORDER BY s.id"), token, string(status))
		return err
	})
	return out, err
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]types.StatusEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	out := []types.StatusEntry{}
	for rows.Next() {
		var (
			e             types.StatusEntry
			status, stamp string
		)
		if err := rows.Scan(&e.ID, &e.RequestToken, &status, &stamp); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		ts, err := parseTime(stamp)
		if err != nil {
			return nil, fmt.Errorf("parsing ledger timestamp: %w", err)
		}
		e.Status = types.Status(status)
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}
