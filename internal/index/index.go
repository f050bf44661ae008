// Package index generates request tokens and resolves lookups against a
// Depot: token to request, free-text query to residues.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// maxTokenAttempts bounds the collision retries of GenerateToken.
const maxTokenAttempts = 8

// Index answers token and search lookups over a Depot.
type Index struct {
	depot    types.Depot
	newToken func() string
}

// New returns an Index over depot.
func New(depot types.Depot) *Index {
	return &Index{depot: depot, newToken: newUUID}
}

// newUUID returns a time-ordered UUID v7, falling back to v4.
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// GenerateToken returns a token no stored request uses. A candidate that
// collides is discarded and a new one drawn; after maxTokenAttempts
// collisions GenerateToken fails with ErrConflict.
//
// The check is advisory: the store's unique constraint on the token is what
// finally rejects a duplicate.
func (x *Index) GenerateToken(ctx context.Context) (string, error) {
	for range maxTokenAttempts {
		token := x.newToken()
		exists, err := x.depot.Requests().TokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: no unused token after %d attempts", types.ErrConflict, maxTokenAttempts)
}

// FindByToken returns the request with token, or ErrNotFound.
func (x *Index) FindByToken(ctx context.Context, token string) (*types.Request, error) {
	return x.depot.Requests().Get(ctx, token)
}

// SearchResidues returns residues whose name or description contains query,
// ignoring case. A blank query matches every residue.
func (x *Index) SearchResidues(ctx context.Context, query string) ([]*types.Residue, error) {
	if strings.TrimSpace(query) == "" {
		return x.depot.Residues().List(ctx)
	}
	return x.depot.Residues().Search(ctx, query)
}
