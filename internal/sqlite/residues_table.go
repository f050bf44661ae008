package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

const residueColumns = "id, name, description, weight, volume, request_token"

// residuesTable implements types.ResidueTable.
type residuesTable struct {
	backend *Backend
}

var _ types.ResidueTable = (*residuesTable)(nil)

func (t *residuesTable) Create(ctx context.Context, n types.NewResidue) (*types.Residue, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	res := &types.Residue{
		Name:        strings.TrimSpace(n.Name),
		Description: n.Description,
		Weight:      n.Weight,
		Volume:      n.Volume,
	}
	now := t.backend.now()
	err := t.backend.update(ctx, residueFiles, func(tx *sql.Tx, d *dialect) error {
		row := tx.QueryRowContext(ctx, d.rebind(
			`INSERT INTO residues (name, description, weight, volume, request_token, created_at)
			 VALUES (?, ?, ?, ?, NULL, ?) RETURNING id`),
			res.Name, res.Description, res.Weight, res.Volume, formatTime(now))
		if err := row.Scan(&res.ID); err != nil {
			return fmt.Errorf("inserting residue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (t *residuesTable) Get(ctx context.Context, id int64) (*types.Residue, error) {
	var res *types.Residue
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		res, err = getResidue(ctx, q, d, id)
		return err
	})
	return res, err
}

func (t *residuesTable) List(ctx context.Context) ([]*types.Residue, error) {
	var out []*types.Residue
	err := t.backend.view(ctx, func(q querier, d *dialect) error {
		var err error
		out, err = queryResidues(ctx, q, d.rebind(
			"SELECT "+residueColumns+" FROM residues ORDER BY id"))
		return err
	})
	return out, err
}

// Search matches name or description with Unicode case folding.
func (t *residuesTable) Search(ctx context.Context, query string) ([]*types.Residue, error) {
	needle := strings.ToLower(query)
	all, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []*types.Residue{}
	for _, r := range all {
		if strings.Contains(strings.ToLower(r.Name), needle) ||
			strings.Contains(strings.ToLower(r.Description), needle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *residuesTable) Delete(ctx context.Context, id int64) error {
	return t.backend.update(ctx, residueFiles, func(tx *sql.Tx, d *dialect) error {
		res, err := getResidue(ctx, tx, d, id)
		if err != nil {
			return err
		}
		if !res.Available() {
			return fmt.Errorf("%w: residue %d is claimed by request %s", types.ErrConflict, id, *res.RequestToken)
		}
		if _, err := tx.ExecContext(ctx, d.rebind(
			"DELETE FROM residues WHERE id = ? AND request_token IS NULL"), id); err != nil {
			return fmt.Errorf("deleting residue: %w", err)
		}
		return nil
	})
}

// claimTx points every listed residue at token. The update is conditional on
// the residue being unclaimed, so two transactions racing for the same
// residue cannot both succeed. The caller's transaction rolls back all
// earlier claims on failure.
func claimTx(ctx context.Context, tx *sql.Tx, d *dialect, ids []int64, token string) error {
	for _, id := range ids {
		result, err := tx.ExecContext(ctx, d.rebind(
			"UPDATE residues SET request_token = ? WHERE id = ? AND request_token IS NULL"),
			token, id)
		if err != nil {
			return fmt.Errorf("claiming residue %d: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("claiming residue %d: %w", id, err)
		}
		if n == 1 {
			continue
		}
		if _, err := getResidue(ctx, tx, d, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: residue %d is already assigned to a request", types.ErrConflict, id)
	}
	return nil
}

// releaseTx clears the back-reference of every residue claimed by token.
func releaseTx(ctx context.Context, tx *sql.Tx, d *dialect, token string) error {
	if _, err := tx.ExecContext(ctx, d.rebind(
		"UPDATE residues SET request_token = NULL WHERE request_token = ?"), token); err != nil {
		return fmt.Errorf("releasing residues: %w", err)
	}
	return nil
}

func getResidue(ctx context.Context, q querier, d *dialect, id int64) (*types.Residue, error) {
	row := q.QueryRowContext(ctx, d.rebind(
		"SELECT "+residueColumns+" FROM residues WHERE id = ?"), id)
	res, err := scanResidue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: residue %d", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading residue %d: %w", id, err)
	}
	return res, nil
}

func queryResidues(ctx context.Context, q querier, query string, args ...any) ([]*types.Residue, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying residues: %w", err)
	}
	defer rows.Close()

	out := []*types.Residue{}
	for rows.Next() {
		res, err := scanResidue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning residue: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResidue(s rowScanner) (*types.Residue, error) {
	var (
		res   types.Residue
		token sql.NullString
	)
	if err := s.Scan(&res.ID, &res.Name, &res.Description, &res.Weight, &res.Volume, &token); err != nil {
		return nil, err
	}
	if token.Valid {
		tok := token.String
		res.RequestToken = &tok
	}
	return &res, nil
}
