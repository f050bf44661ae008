package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

const requestColumns = "id, token, municipality, datetime, status"

// requestsTable implements types.RequestTable. Every mutation runs in one
// transaction covering the request row, its residue set, the residues'
// back-references, and the status ledger.
type requestsTable struct {
	backend *Backend
}

var _ types.RequestTable = (*requestsTable)(nil)

func (t *requestsTable) Create(ctx context.Context, n types.NewRequest, token string, at time.Time) (*types.Request, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token must not be empty", types.ErrValidation)
	}
	now := t.backend.now()

	var req *types.Request
	err := t.backend.update(ctx, requestFiles, func(tx *sql.Tx, d *dialect) error {
		exists, err := tokenExists(ctx, tx, d, token)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: token %s already in use", types.ErrConflict, token)
		}

		var requestID int64
		row := tx.QueryRowContext(ctx, d.rebind(
			`INSERT INTO requests (token, municipality, datetime, status, created_at)
			 VALUES (?, ?, ?, ?, ?) RETURNING id`),
			token, strings.TrimSpace(n.Municipality), formatTime(n.Datetime),
			string(types.StatusReceived), formatTime(now))
		if err := row.Scan(&requestID); err != nil {
			return fmt.Errorf("inserting request: %w", err)
		}

		if err := claimTx(ctx, tx, d, n.ResidueIDs, token); err != nil {
			return err
		}
		for pos, id := range n.ResidueIDs {
			if _, err := tx.ExecContext(ctx, d.rebind(
				"INSERT INTO request_residues (request_id, residue_id, position) VALUES (?, ?, ?)"),
				requestID, id, pos); err != nil {
				return fmt.Errorf("linking residue %d: %w", id, err)
			}
		}

		if err := appendEntry(ctx, tx, d, requestID, types.StatusReceived, at); err != nil {
			return err
		}

		req, err = loadRequest(ctx, tx, d, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (t *requestsTable) Get(ctx context.Context, token string) (*types.Request, error) {
	var req *types.Request
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		req, err = loadRequest(ctx, q, d, token)
		return err
	})
	return req, err
}

func (t *requestsTable) List(ctx context.Context) ([]*types.Request, error) {
	var out []*types.Request
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		out, err = queryRequests(ctx, q, d, nil,
			"SELECT "+requestColumns+" FROM requests ORDER BY id")
		return err
	})
	return out, err
}

// ListByMunicipality matches the municipality with Unicode case folding.
func (t *requestsTable) ListByMunicipality(ctx context.Context, name string) ([]*types.Request, error) {
	name = strings.TrimSpace(name)
	var out []*types.Request
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		out, err = queryRequests(ctx, q, d, func(r *types.Request) bool {
			return strings.EqualFold(r.Municipality, name)
		}, "SELECT "+requestColumns+" FROM requests ORDER BY id")
		return err
	})
	return out, err
}

func (t *requestsTable) Delete(ctx context.Context, token string) error {
	return t.backend.update(ctx, requestFiles, func(tx *sql.Tx, d *dialect) error {
		requestID, _, err := requestHead(ctx, tx, d, token)
		if err != nil {
			return err
		}
		if err := releaseTx(ctx, tx, d, token); err != nil {
			return err
		}
		for _, stmt := range []string{
			"DELETE FROM request_residues WHERE request_id = ?",
			"DELETE FROM statuses WHERE request_id = ?",
			"DELETE FROM requests WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, d.rebind(stmt), requestID); err != nil {
				return fmt.Errorf("deleting request %s: %w", token, err)
			}
		}
		return nil
	})
}

func (t *requestsTable) Transition(ctx context.Context, token string, action types.Action, at time.Time) (*types.Request, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", types.ErrValidation, action)
	}

	var req *types.Request
	err := t.backend.update(ctx, ledgerFiles, func(tx *sql.Tx, d *dialect) error {
		requestID, current, err := requestHead(ctx, tx, d, token)
		if err != nil {
			return err
		}
		next, err := types.Next(current, action)
		if err != nil {
			return err
		}

		// Compare-and-set on the status read above. A concurrent writer that
		// got there first leaves zero rows affected.
		result, err := tx.ExecContext(ctx, d.rebind(
			"UPDATE requests SET status = ? WHERE id = ? AND status = ?"),
			string(next), requestID, string(current))
		if err != nil {
			return fmt.Errorf("updating status: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating status: %w", err)
		}
		if n != 1 {
			_, latest, err := requestHead(ctx, tx, d, token)
			if err != nil {
				return err
			}
			return &types.TransitionError{From: latest, Action: action}
		}

		if err := appendEntry(ctx, tx, d, requestID, next, at); err != nil {
			return err
		}

		req, err = loadRequest(ctx, tx, d, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (t *requestsTable) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		exists, err = tokenExists(ctx, q, d, token)
		return err
	})
	return exists, err
}

func tokenExists(ctx context.Context, q querier, d *dialect, token string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, d.rebind(
		"SELECT COUNT(*) FROM requests WHERE token = ?"), token).Scan(&n); err != nil {
		return false, fmt.Errorf("checking token: %w", err)
	}
	return n > 0, nil
}

// requestHead returns the internal id and current status of the request.
func requestHead(ctx context.Context, q querier, d *dialect, token string) (int64, types.Status, error) {
	var (
		id     int64
		status string
	)
	err := q.QueryRowContext(ctx, d.rebind(
		"SELECT id, status FROM requests WHERE token = ?"), token).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: request %s", types.ErrNotFound, token)
	}
	if err != nil {
		return 0, "", fmt.Errorf("reading request %s: %w", token, err)
	}
	return id, types.Status(status), nil
}

// appendEntry adds a ledger entry. Timestamps never go backwards within a
// request's ledger: an entry stamped before the latest one takes the latest
// timestamp instead.
func appendEntry(ctx context.Context, tx *sql.Tx, d *dialect, requestID int64, status types.Status, at time.Time) error {
	var last string
	err := tx.QueryRowContext(ctx, d.rebind(
		"SELECT timestamp FROM statuses WHERE request_id = ? ORDER BY id DESC LIMIT 1"),
		requestID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading ledger: %w", err)
	default:
		prev, err := parseTime(last)
		if err != nil {
			return fmt.Errorf("parsing ledger timestamp: %w", err)
		}
		if at.Before(prev) {
			at = prev
		}
	}

	if _, err := tx.ExecContext(ctx, d.rebind(
		"INSERT INTO statuses (request_id, status, timestamp) VALUES (?, ?, ?)"),
		requestID, string(status), formatTime(at)); err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	return nil
}

func loadRequest(ctx context.Context, q querier, d *dialect, token string) (*types.Request, error) {
	row := q.QueryRowContext(ctx, d.rebind(
		"SELECT "+requestColumns+" FROM requests WHERE token = ?"), token)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %s", types.ErrNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("reading request %s: %w", token, err)
	}
	if err := hydrate(ctx, q, d, req); err != nil {
		return nil, err
	}
	return req, nil
}

// queryRequests collects the matching request rows before hydrating them, so
// that only one result set is open at a time. When keep is non-nil, only the
// rows it accepts are hydrated and returned.
func queryRequests(ctx context.Context, q querier, d *dialect, keep func(*types.Request) bool, query string, args ...any) ([]*types.Request, error) {
	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	out := []*types.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		if keep == nil || keep(req) {
			out = append(out, req)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, req := range out {
		if err := hydrate(ctx, q, d, req); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// hydrate loads the ordered residue set and the ledger of req.
func hydrate(ctx context.Context, q querier, d *dialect, req *types.Request) error {
	residues, err := queryResidues(ctx, q, d.rebind(
		`SELECT r.id, r.name, r.description, r.weight, r.volume, r.request_token
		 FROM request_residues rr JOIN residues r ON r.id = rr.residue_id
		 WHERE rr.request_id = ? ORDER BY rr.position`), req.ID)
	if err != nil {
		return err
	}
	req.Residues = make([]types.Residue, len(residues))
	for i, res := range residues {
		req.Residues[i] = *res
	}

	entries, err := queryEntries(ctx, q, d.rebind(
		entrySelect+" WHERE s.request_id = ? ORDER BY s.id"), req.ID)
	if err != nil {
		return err
	}
	req.Statuses = entries
	return nil
}

func scanRequest(s rowScanner) (*types.Request, error) {
	var (
		req              types.Request
		datetime, status string
	)
	if err := s.Scan(&req.ID, &req.Token, &req.Municipality, &datetime, &status); err != nil {
		return nil, err
	}
	dt, err := parseTime(datetime)
	if err != nil {
		return nil, fmt.Errorf("parsing request datetime: %w", err)
	}
	req.Datetime = dt
	req.Status = types.Status(status)
	return &req, nil
}
