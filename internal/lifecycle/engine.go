// Package lifecycle drives collection requests through their statuses. The
// Engine is the single entry point used by the HTTP API and the CLI: it
// issues tokens, serializes transitions per request, and records every
// change in the status ledger through the Depot.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/zeromonos/internal/index"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// Engine applies lifecycle operations on top of a Depot.
type Engine struct {
	depot  types.Depot
	index  *index.Index
	logger *slog.Logger
	now    func() time.Time
	locks  keyedMutex
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the clock used to stamp ledger entries.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine over an attached depot.
func New(depot types.Depot, opts ...EngineOption) *Engine {
	e := &Engine{
		depot:  depot,
		index:  index.New(depot),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateResidue validates and stores a new, unclaimed residue.
func (e *Engine) CreateResidue(ctx context.Context, n types.NewResidue) (*types.Residue, error) {
	res, err := e.depot.Residues().Create(ctx, n)
	if err != nil {
		return nil, err
	}
	e.logger.Info("residue created", "residue_id", res.ID, "name", res.Name)
	return res, nil
}

// GetResidue returns the residue with id.
func (e *Engine) GetResidue(ctx context.Context, id int64) (*types.Residue, error) {
	return e.depot.Residues().Get(ctx, id)
}

// ListResidues returns every residue.
func (e *Engine) ListResidues(ctx context.Context) ([]*types.Residue, error) {
	return e.depot.Residues().List(ctx)
}

// SearchResidues matches query against residue names and descriptions.
func (e *Engine) SearchResidues(ctx context.Context, query string) ([]*types.Residue, error) {
	return e.index.SearchResidues(ctx, query)
}

// DeleteResidue removes an unclaimed residue.
func (e *Engine) DeleteResidue(ctx context.Context, id int64) error {
	if err := e.depot.Residues().Delete(ctx, id); err != nil {
		if errors.Is(err, types.ErrConflict) {
			e.logger.Warn("residue delete rejected", "residue_id", id, "error", err)
		}
		return err
	}
	e.logger.Info("residue deleted", "residue_id", id)
	return nil
}

// CreateRequest claims the listed residues under a fresh token and records
// the request as received. It returns the token, which is the only handle
// callers get.
func (e *Engine) CreateRequest(ctx context.Context, n types.NewRequest) (string, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}
	token, err := e.index.GenerateToken(ctx)
	if err != nil {
		return "", err
	}
	req, err := e.depot.Requests().Create(ctx, n, token, e.now())
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			claimConflictsTotal.Inc()
			e.logger.Warn("request rejected", "municipality", n.Municipality, "error", err)
		}
		return "", err
	}
	requestsCreatedTotal.Inc()
	e.logger.Info("request created",
		"token", req.Token,
		"municipality", req.Municipality,
		"residues", len(req.Residues),
	)
	return req.Token, nil
}

// GetRequest returns the request with token, its residues and its ledger.
func (e *Engine) GetRequest(ctx context.Context, token string) (*types.Request, error) {
	return e.index.FindByToken(ctx, token)
}

// ListRequests returns every request.
func (e *Engine) ListRequests(ctx context.Context) ([]*types.Request, error) {
	return e.depot.Requests().List(ctx)
}

// ListRequestsByMunicipality returns the requests of one municipality,
// ignoring case.
func (e *Engine) ListRequestsByMunicipality(ctx context.Context, name string) ([]*types.Request, error) {
	return e.depot.Requests().ListByMunicipality(ctx, name)
}

// DeleteRequest removes the request, its ledger, and releases its residues.
func (e *Engine) DeleteRequest(ctx context.Context, token string) error {
	unlock := e.locks.lock(token)
	defer unlock()

	if err := e.depot.Requests().Delete(ctx, token); err != nil {
		return err
	}
	requestsDeletedTotal.Inc()
	e.logger.Info("request deleted", "token", token)
	return nil
}

// ApplyTransition moves the request with token to the status that action
// leads to and appends a ledger entry. It fails with ErrNotFound for an
// unknown token and with a *types.TransitionError when the action is not
// legal from the current status; the request is unchanged in both cases.
func (e *Engine) ApplyTransition(ctx context.Context, token string, action types.Action) (*types.Request, error) {
	unlock := e.locks.lock(token)
	defer unlock()

	req, err := e.depot.Requests().Transition(ctx, token, action, e.now())
	if err != nil {
		var terr *types.TransitionError
		switch {
		case errors.As(err, &terr):
			transitionsTotal.WithLabelValues(string(action), resultRejected).Inc()
			e.logger.Warn("transition rejected",
				"token", token,
				"action", action,
				"from", terr.From,
			)
		default:
			transitionsTotal.WithLabelValues(string(action), resultError).Inc()
		}
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(action), resultApplied).Inc()
	attrs := []any{"token", token, "action", action, "to", req.Status}
	if n := len(req.Statuses); n >= 2 {
		attrs = append(attrs, "from", req.Statuses[n-2].Status)
	}
	e.logger.Info("transition applied", attrs...)
	return req, nil
}

// Assign dispatches the request to a collection crew.
func (e *Engine) Assign(ctx context.Context, token string) (*types.Request, error) {
	return e.ApplyTransition(ctx, token, types.ActionAssign)
}

// Start marks the collection as under way.
func (e *Engine) Start(ctx context.Context, token string) (*types.Request, error) {
	return e.ApplyTransition(ctx, token, types.ActionStart)
}

// Complete marks the collection as done.
func (e *Engine) Complete(ctx context.Context, token string) (*types.Request, error) {
	return e.ApplyTransition(ctx, token, types.ActionComplete)
}

// Cancel abandons a request that has not started.
func (e *Engine) Cancel(ctx context.Context, token string) (*types.Request, error) {
	return e.ApplyTransition(ctx, token, types.ActionCancel)
}

// Statuses returns the ledger of the request with token in append order.
// An unknown token yields an empty ledger.
func (e *Engine) Statuses(ctx context.Context, token string) ([]types.StatusEntry, error) {
	return e.depot.Statuses().ListByToken(ctx, token)
}

// StatusesWithStatus returns the ledger entries of token that recorded status.
func (e *Engine) StatusesWithStatus(ctx context.Context, token string, status types.Status) ([]types.StatusEntry, error) {
	return e.depot.Statuses().ListByTokenAndStatus(ctx, token, status)
}
