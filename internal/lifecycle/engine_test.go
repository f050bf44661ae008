package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/zeromonos/internal/sqlite"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

var t0 = time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)

// stepClock returns a clock that advances one second per reading.
func stepClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return t0.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func setupEngine(t *testing.T) (*Engine, types.Depot, *bytes.Buffer) {
	t.Helper()
	depot := sqlite.NewBackend()
	require.NoError(t, depot.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { depot.Detach() })

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return New(depot, WithLogger(logger), WithClock(stepClock())), depot, &logs
}

func createResidues(t *testing.T, e *Engine, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(names))
	for i, name := range names {
		res, err := e.CreateResidue(context.Background(), types.NewResidue{Name: name, Weight: 2, Volume: 1})
		require.NoError(t, err)
		ids[i] = res.ID
	}
	return ids
}

func newRequest(municipality string, ids ...int64) types.NewRequest {
	return types.NewRequest{Municipality: municipality, Datetime: t0.Add(48 * time.Hour), ResidueIDs: ids}
}

// assertClaimsConsistent checks that a residue carries a token exactly when
// it belongs to that token's request.
func assertClaimsConsistent(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	requests, err := e.ListRequests(ctx)
	require.NoError(t, err)

	owner := map[int64]string{}
	for _, req := range requests {
		for _, id := range req.ResidueIDs() {
			_, dup := owner[id]
			assert.False(t, dup, "residue %d belongs to two requests", id)
			owner[id] = req.Token
		}
	}

	residues, err := e.ListResidues(ctx)
	require.NoError(t, err)
	for _, res := range residues {
		token, claimed := owner[res.ID]
		if !claimed {
			assert.Nil(t, res.RequestToken, "residue %d has a dangling claim", res.ID)
			continue
		}
		require.NotNil(t, res.RequestToken, "residue %d lost its claim", res.ID)
		assert.Equal(t, token, *res.RequestToken)
	}
}

func TestEngine_CreateRequest(t *testing.T) {
	e, _, logs := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass", "Paper")
	before := testutil.ToFloat64(requestsCreatedTotal)

	token, err := e.CreateRequest(ctx, newRequest("Lisbon", ids...))
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	req, err := e.GetRequest(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, req.Status)
	assert.Equal(t, ids, req.ResidueIDs())
	require.Len(t, req.Statuses, 1)
	assert.Equal(t, types.StatusReceived, req.Statuses[0].Status)

	assert.Equal(t, before+1, testutil.ToFloat64(requestsCreatedTotal))
	assert.Contains(t, logs.String(), "request created")
	assertClaimsConsistent(t, e)
}

func TestEngine_CreateRequestErrors(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass", "Paper")
	_, err := e.CreateRequest(ctx, newRequest("Porto", ids[1]))
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     types.NewRequest
		wantErr error
	}{
		{"blank municipality", newRequest("  ", ids[0]), types.ErrValidation},
		{"no residues", newRequest("Lisbon"), types.ErrValidation},
		{"duplicate residue", newRequest("Lisbon", ids[0], ids[0]), types.ErrValidation},
		{"zero datetime", types.NewRequest{Municipality: "Lisbon", ResidueIDs: []int64{ids[0]}}, types.ErrValidation},
		{"unknown residue", newRequest("Lisbon", ids[0], 404), types.ErrNotFound},
		{"claimed residue", newRequest("Lisbon", ids[0], ids[1]), types.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := e.CreateRequest(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, token)

			res, err := e.GetResidue(ctx, ids[0])
			require.NoError(t, err)
			assert.True(t, res.Available())
		})
	}
	assertClaimsConsistent(t, e)
}

func TestEngine_TransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		actions []types.Action
		want    types.Status
	}{
		{"assign", []types.Action{types.ActionAssign}, types.StatusAssigned},
		{"start", []types.Action{types.ActionAssign, types.ActionStart}, types.StatusInProgress},
		{"complete", []types.Action{types.ActionAssign, types.ActionStart, types.ActionComplete}, types.StatusCompleted},
		{"cancel received", []types.Action{types.ActionCancel}, types.StatusCanceled},
		{"cancel assigned", []types.Action{types.ActionAssign, types.ActionCancel}, types.StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := setupEngine(t)
			ctx := context.Background()
			ids := createResidues(t, e, "Glass")
			token, err := e.CreateRequest(ctx, newRequest("Lisbon", ids...))
			require.NoError(t, err)

			var req *types.Request
			for _, a := range tt.actions {
				req, err = e.ApplyTransition(ctx, token, a)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, req.Status)
			assert.Len(t, req.Statuses, len(tt.actions)+1)

			last, _ := req.LastEntry()
			assert.Equal(t, tt.want, last.Status)
			for i := 1; i < len(req.Statuses); i++ {
				assert.False(t, req.Statuses[i].Timestamp.Before(req.Statuses[i-1].Timestamp))
			}
		})
	}
}

func TestEngine_RejectedTransitions(t *testing.T) {
	e, _, logs := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass")
	token, err := e.CreateRequest(ctx, newRequest("Lisbon", ids...))
	require.NoError(t, err)
	_, err = e.Assign(ctx, token)
	require.NoError(t, err)
	_, err = e.Start(ctx, token)
	require.NoError(t, err)

	rejected := testutil.ToFloat64(transitionsTotal.WithLabelValues(string(types.ActionCancel), resultRejected))

	// Collection already under way.
	_, err = e.Cancel(ctx, token)
	var terr *types.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.StatusInProgress, terr.From)
	assert.Equal(t, types.ActionCancel, terr.Action)
	assert.Equal(t, rejected+1, testutil.ToFloat64(transitionsTotal.WithLabelValues(string(types.ActionCancel), resultRejected)))
	assert.Contains(t, logs.String(), "transition rejected")

	_, err = e.Assign(ctx, token)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = e.Complete(ctx, "no-such-token")
	assert.ErrorIs(t, err, types.ErrNotFound)

	req, err := e.GetRequest(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, req.Status)
	assert.Len(t, req.Statuses, 3)

	// Terminal statuses accept nothing.
	_, err = e.Complete(ctx, token)
	require.NoError(t, err)
	for _, a := range types.AllActions {
		_, err := e.ApplyTransition(ctx, token, a)
		assert.ErrorIs(t, err, types.ErrInvalidTransition, "action %s", a)
	}
}

func TestEngine_ResiduesStayClaimedAfterTerminalStatus(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass")
	token, err := e.CreateRequest(ctx, newRequest("Lisbon", ids...))
	require.NoError(t, err)
	_, err = e.Cancel(ctx, token)
	require.NoError(t, err)

	res, err := e.GetResidue(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, res.RequestToken)
	assert.Equal(t, token, *res.RequestToken)

	assert.ErrorIs(t, e.DeleteResidue(ctx, ids[0]), types.ErrConflict)
	_, err = e.CreateRequest(ctx, newRequest("Lisbon", ids...))
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestEngine_DeleteRequest(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass", "Paper")
	token, err := e.CreateRequest(ctx, newRequest("Lisbon", ids...))
	require.NoError(t, err)
	_, err = e.Assign(ctx, token)
	require.NoError(t, err)

	require.NoError(t, e.DeleteRequest(ctx, token))
	assert.ErrorIs(t, e.DeleteRequest(ctx, token), types.ErrNotFound)

	_, err = e.GetRequest(ctx, token)
	assert.ErrorIs(t, err, types.ErrNotFound)
	entries, err := e.Statuses(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assertClaimsConsistent(t, e)

	for _, id := range ids {
		require.NoError(t, e.DeleteResidue(ctx, id))
	}
	assert.Zero(t, e.locks.size())
}

func TestEngine_Queries(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass", "Paper", "Green glass")
	lisbon, err := e.CreateRequest(ctx, newRequest("Lisbon", ids[0]))
	require.NoError(t, err)
	_, err = e.CreateRequest(ctx, newRequest("Porto", ids[1]))
	require.NoError(t, err)
	_, err = e.Assign(ctx, lisbon)
	require.NoError(t, err)

	found, err := e.SearchResidues(ctx, "GLASS")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	all, err := e.SearchResidues(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	reqs, err := e.ListRequestsByMunicipality(ctx, "LISBON")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, lisbon, reqs[0].Token)

	entries, err := e.Statuses(ctx, lisbon)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.StatusReceived, entries[0].Status)
	assert.Equal(t, types.StatusAssigned, entries[1].Status)

	assigned, err := e.StatusesWithStatus(ctx, lisbon, types.StatusAssigned)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, entries[1].ID, assigned[0].ID)

	unknown, err := e.Statuses(ctx, "no-such-token")
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestEngine_ConcurrentCreateRequestsForSameResidue(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass", "Paper")

	var won, lost atomic.Int32
	var g errgroup.Group
	for i := range 10 {
		g.Go(func() error {
			// Half the racers ask for both residues, half for Glass alone.
			req := newRequest(fmt.Sprintf("Town %d", i), ids[0])
			if i%2 == 0 {
				req = newRequest(fmt.Sprintf("Town %d", i), ids[1], ids[0])
			}
			_, err := e.CreateRequest(ctx, req)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, types.ErrConflict):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(9), lost.Load())
	assertClaimsConsistent(t, e)
}

func TestEngine_ConcurrentConflictingTransitions(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()
	ids := createResidues(t, e, "Glass")
	token, err := e.CreateRequest(ctx, newRequest("Lisbon", ids...))
	require.NoError(t, err)
	_, err = e.Assign(ctx, token)
	require.NoError(t, err)

	// From assigned, start and cancel exclude each other.
	var applied atomic.Int32
	var g errgroup.Group
	for i := range 12 {
		action := types.ActionStart
		if i%2 == 1 {
			action = types.ActionCancel
		}
		g.Go(func() error {
			_, err := e.ApplyTransition(ctx, token, action)
			if err == nil {
				applied.Add(1)
				return nil
			}
			if errors.Is(err, types.ErrInvalidTransition) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), applied.Load())

	req, err := e.GetRequest(ctx, token)
	require.NoError(t, err)
	assert.Len(t, req.Statuses, 3)
	assert.Contains(t, []types.Status{types.StatusInProgress, types.StatusCanceled}, req.Status)
	assert.Zero(t, e.locks.size())
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	var inside, maxInside atomic.Int32
	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			unlock := k.lock("tok")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, k.size())

	a := k.lock("a")
	b := k.lock("b")
	assert.Equal(t, 2, k.size())
	a()
	b()
	assert.Zero(t, k.size())
}
