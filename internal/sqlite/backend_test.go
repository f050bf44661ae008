// Tests for the SQL backend running on embedded SQLite.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

var baseTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func setupBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dataDir := t.TempDir()
	b := NewBackend()
	b.now = func() time.Time { return baseTime }
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dataDir}))
	t.Cleanup(func() { b.Detach() })
	return b, dataDir
}

func mustResidue(t *testing.T, b *Backend, name, desc string) *types.Residue {
	t.Helper()
	res, err := b.Residues().Create(context.Background(), types.NewResidue{
		Name: name, Description: desc, Weight: 1.5, Volume: 2,
	})
	require.NoError(t, err)
	return res
}

func mustRequest(t *testing.T, b *Backend, token, municipality string, ids ...int64) *types.Request {
	t.Helper()
	req, err := b.Requests().Create(context.Background(), types.NewRequest{
		Municipality: municipality,
		Datetime:     baseTime.Add(24 * time.Hour),
		ResidueIDs:   ids,
	}, token, baseTime)
	require.NoError(t, err)
	return req
}

func TestBackend_Attach(t *testing.T) {
	dataDir := t.TempDir()
	b := NewBackend()
	config := types.Config{Backend: types.BackendSQLite, DataDir: dataDir}

	require.NoError(t, b.Attach(config))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(dataDir, dbFileName))
	assert.NoError(t, err, "database file should exist")

	for _, m := range jsonlTableMapping {
		_, err := os.Stat(filepath.Join(dataDir, m.file))
		assert.NoError(t, err, "%s should exist", m.file)
	}

	assert.ErrorIs(t, b.Attach(config), types.ErrAlreadyAttached)
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  types.Config
		wantErr error
	}{
		{"empty backend", types.Config{DataDir: t.TempDir()}, types.ErrBackendEmpty},
		{"unknown backend", types.Config{Backend: "dolt", DataDir: t.TempDir()}, types.ErrBackendUnknown},
		{"postgres without dsn", types.Config{Backend: types.BackendPostgres}, types.ErrDSNEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackend()
			assert.ErrorIs(t, b.Attach(tt.config), tt.wantErr)
		})
	}
}

func TestBackend_Detach(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Detach())
	assert.NoError(t, b.Detach(), "second Detach should be a no-op")

	_, err := b.Residues().List(ctx)
	assert.ErrorIs(t, err, types.ErrDetached)
	_, err = b.Requests().Get(ctx, "tok")
	assert.ErrorIs(t, err, types.ErrDetached)
	_, err = b.Statuses().ListByToken(ctx, "tok")
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestResidueTable_CRUD(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	residues := b.Residues()

	glass := mustResidue(t, b, "  Glass  ", "Green bottles")
	assert.Equal(t, "Glass", glass.Name, "name is trimmed")
	assert.True(t, glass.Available())
	assert.Positive(t, glass.ID)

	got, err := residues.Get(ctx, glass.ID)
	require.NoError(t, err)
	assert.Equal(t, glass, got)

	paper := mustResidue(t, b, "Paper", "")
	list, err := residues.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, glass.ID, list[0].ID)
	assert.Equal(t, paper.ID, list[1].ID)

	require.NoError(t, residues.Delete(ctx, paper.ID))
	_, err = residues.Get(ctx, paper.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, residues.Delete(ctx, paper.ID), types.ErrNotFound)
}

func TestResidueTable_CreateInvalid(t *testing.T) {
	b, _ := setupBackend(t)
	_, err := b.Residues().Create(context.Background(), types.NewResidue{Name: "", Weight: 1})
	assert.ErrorIs(t, err, types.ErrValidation)

	list, err := b.Residues().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestResidueTable_Search(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	mustResidue(t, b, "Glass", "Green bottles")
	mustResidue(t, b, "Cardboard", "Boxes from GLASSWARE shop")
	mustResidue(t, b, "Oil", "100% used_oil")
	mustResidue(t, b, "Óleo usado", "Cozinha")
	mustResidue(t, b, "Vidro", "GARRAFAS DE ÁGUA")

	tests := []struct {
		query string
		want  []string
	}{
		{"glass", []string{"Glass", "Cardboard"}},
		{"BOTTLES", []string{"Glass"}},
		{"%", []string{"Oil"}},
		{"_", []string{"Oil"}},
		{"óleo", []string{"Óleo usado"}},
		{"ÓLEO", []string{"Óleo usado"}},
		{"água", []string{"Vidro"}},
		{"metal", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := b.Residues().Search(ctx, tt.query)
			require.NoError(t, err)
			var names []string
			for _, r := range got {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestResidueTable_DeleteClaimed(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")
	mustRequest(t, b, "tok-1", "Lisbon", res.ID)

	assert.ErrorIs(t, b.Residues().Delete(ctx, res.ID), types.ErrConflict)

	// Claims persist through terminal statuses.
	_, err := b.Requests().Transition(ctx, "tok-1", types.ActionCancel, baseTime)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Residues().Delete(ctx, res.ID), types.ErrConflict)
}

func TestRequestTable_Create(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	r1 := mustResidue(t, b, "Glass", "")
	r2 := mustResidue(t, b, "Paper", "")

	req := mustRequest(t, b, "tok-1", "  Lisbon ", r2.ID, r1.ID)
	assert.Equal(t, "tok-1", req.Token)
	assert.Equal(t, "Lisbon", req.Municipality)
	assert.Equal(t, types.StatusReceived, req.Status)
	assert.True(t, req.Datetime.Equal(baseTime.Add(24*time.Hour)))
	assert.Equal(t, []int64{r2.ID, r1.ID}, req.ResidueIDs(), "residue order is preserved")

	require.Len(t, req.Statuses, 1)
	assert.Equal(t, types.StatusReceived, req.Statuses[0].Status)
	assert.Equal(t, "tok-1", req.Statuses[0].RequestToken)
	assert.True(t, req.Statuses[0].Timestamp.Equal(baseTime))

	for _, id := range []int64{r1.ID, r2.ID} {
		res, err := b.Residues().Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, res.RequestToken)
		assert.Equal(t, "tok-1", *res.RequestToken)
	}

	exists, err := b.Requests().TokenExists(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = b.Requests().TokenExists(ctx, "tok-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRequestTable_CreateFailuresAreAtomic(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	free := mustResidue(t, b, "Glass", "")
	taken := mustResidue(t, b, "Paper", "")
	mustRequest(t, b, "tok-1", "Porto", taken.ID)

	tests := []struct {
		name    string
		token   string
		ids     []int64
		wantErr error
	}{
		{"unknown residue", "tok-2", []int64{free.ID, 999}, types.ErrNotFound},
		{"claimed residue", "tok-2", []int64{free.ID, taken.ID}, types.ErrConflict},
		{"duplicate token", "tok-1", []int64{free.ID}, types.ErrConflict},
		{"no residues", "tok-2", nil, types.ErrValidation},
		{"empty token", " ", []int64{free.ID}, types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Requests().Create(ctx, types.NewRequest{
				Municipality: "Lisbon",
				Datetime:     baseTime,
				ResidueIDs:   tt.ids,
			}, tt.token, baseTime)
			assert.ErrorIs(t, err, tt.wantErr)

			res, err := b.Residues().Get(ctx, free.ID)
			require.NoError(t, err)
			assert.True(t, res.Available(), "failed create must not claim residues")

			reqs, err := b.Requests().List(ctx)
			require.NoError(t, err)
			assert.Len(t, reqs, 1)
		})
	}
}

func TestRequestTable_TransitionLifecycle(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")
	mustRequest(t, b, "tok-1", "Lisbon", res.ID)

	steps := []struct {
		action types.Action
		want   types.Status
	}{
		{types.ActionAssign, types.StatusAssigned},
		{types.ActionStart, types.StatusInProgress},
		{types.ActionComplete, types.StatusCompleted},
	}
	for i, step := range steps {
		req, err := b.Requests().Transition(ctx, "tok-1", step.action, baseTime.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, step.want, req.Status)
		last, ok := req.LastEntry()
		require.True(t, ok)
		assert.Equal(t, step.want, last.Status)
		assert.Len(t, req.Statuses, i+2)
	}

	_, err := b.Requests().Transition(ctx, "tok-1", types.ActionCancel, baseTime.Add(time.Hour))
	var terr *types.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.StatusCompleted, terr.From)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	entries, err := b.Statuses().ListByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, entries, 4, "rejected transition appends nothing")
}

func TestRequestTable_TransitionErrors(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")
	mustRequest(t, b, "tok-1", "Lisbon", res.ID)

	_, err := b.Requests().Transition(ctx, "missing", types.ActionAssign, baseTime)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = b.Requests().Transition(ctx, "tok-1", types.Action("teleport"), baseTime)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = b.Requests().Transition(ctx, "tok-1", types.ActionStart, baseTime)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	req, err := b.Requests().Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, req.Status)
}

func TestRequestTable_LedgerTimestampsAreMonotonic(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")
	mustRequest(t, b, "tok-1", "Lisbon", res.ID)

	req, err := b.Requests().Transition(ctx, "tok-1", types.ActionAssign, baseTime.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, req.Statuses, 2)
	assert.True(t, req.Statuses[1].Timestamp.Equal(baseTime), "earlier clock reading is clamped to the last entry")
	assert.Less(t, req.Statuses[0].ID, req.Statuses[1].ID)
}

func TestRequestTable_Delete(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	r1 := mustResidue(t, b, "Glass", "")
	r2 := mustResidue(t, b, "Paper", "")
	mustRequest(t, b, "tok-1", "Lisbon", r1.ID, r2.ID)
	_, err := b.Requests().Transition(ctx, "tok-1", types.ActionAssign, baseTime)
	require.NoError(t, err)

	require.NoError(t, b.Requests().Delete(ctx, "tok-1"))

	_, err = b.Requests().Get(ctx, "tok-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, b.Requests().Delete(ctx, "tok-1"), types.ErrNotFound)

	entries, err := b.Statuses().ListByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, id := range []int64{r1.ID, r2.ID} {
		res, err := b.Residues().Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Available())
	}

	// Released residues can be claimed again and deleted.
	mustRequest(t, b, "tok-2", "Porto", r1.ID)
	require.NoError(t, b.Residues().Delete(ctx, r2.ID))
}

func TestRequestTable_ListByMunicipality(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	r1 := mustResidue(t, b, "Glass", "")
	r2 := mustResidue(t, b, "Paper", "")
	r3 := mustResidue(t, b, "Oil", "")
	mustRequest(t, b, "tok-1", "Lisbon", r1.ID)
	mustRequest(t, b, "tok-2", "Porto", r2.ID)
	mustRequest(t, b, "tok-3", "LISBON", r3.ID)

	got, err := b.Requests().ListByMunicipality(ctx, "lisbon")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tok-1", got[0].Token)
	assert.Equal(t, "tok-3", got[1].Token)
	assert.Len(t, got[0].Residues, 1)

	got, err = b.Requests().ListByMunicipality(ctx, "Faro")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRequestTable_ListByMunicipalityAccented(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	r1 := mustResidue(t, b, "Glass", "")
	r2 := mustResidue(t, b, "Paper", "")
	r3 := mustResidue(t, b, "Oil", "")
	mustRequest(t, b, "tok-1", "ÉVORA", r1.ID)
	mustRequest(t, b, "tok-2", "Setúbal", r2.ID)
	mustRequest(t, b, "tok-3", "Évora", r3.ID)

	tests := []struct {
		query string
		want  []string
	}{
		{"évora", []string{"tok-1", "tok-3"}},
		{" ÉVORA ", []string{"tok-1", "tok-3"}},
		{"SETÚBAL", []string{"tok-2"}},
		{"evora", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := b.Requests().ListByMunicipality(ctx, tt.query)
			require.NoError(t, err)
			var tokens []string
			for _, r := range got {
				tokens = append(tokens, r.Token)
			}
			assert.Equal(t, tt.want, tokens)
		})
	}
}

func TestStatusTable_ListByTokenAndStatus(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")
	mustRequest(t, b, "tok-1", "Lisbon", res.ID)
	_, err := b.Requests().Transition(ctx, "tok-1", types.ActionAssign, baseTime.Add(time.Minute))
	require.NoError(t, err)

	got, err := b.Statuses().ListByTokenAndStatus(ctx, "tok-1", types.StatusAssigned)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(baseTime.Add(time.Minute)))

	got, err = b.Statuses().ListByTokenAndStatus(ctx, "tok-1", types.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = b.Statuses().ListByTokenAndStatus(ctx, "tok-1", types.Status("lost"))
	assert.ErrorIs(t, err, types.ErrValidation)
}

// Glass is claimed by a Lisbon request, assigned, and started; a second
// request for the same residue is rejected until the first is deleted.
func TestScenario_GlassInLisbon(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	glass := mustResidue(t, b, "Glass", "Bottles and jars")

	mustRequest(t, b, "lisbon-1", "Lisbon", glass.ID)
	_, err := b.Requests().Transition(ctx, "lisbon-1", types.ActionAssign, baseTime.Add(time.Minute))
	require.NoError(t, err)
	req, err := b.Requests().Transition(ctx, "lisbon-1", types.ActionStart, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, req.Status)

	var statuses []types.Status
	for _, e := range req.Statuses {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []types.Status{types.StatusReceived, types.StatusAssigned, types.StatusInProgress}, statuses)
	require.NotNil(t, req.Residues[0].RequestToken)
	assert.Equal(t, "lisbon-1", *req.Residues[0].RequestToken)

	_, err = b.Requests().Create(ctx, types.NewRequest{
		Municipality: "Lisbon", Datetime: baseTime, ResidueIDs: []int64{glass.ID},
	}, "lisbon-2", baseTime)
	assert.ErrorIs(t, err, types.ErrConflict)

	require.NoError(t, b.Requests().Delete(ctx, "lisbon-1"))
	mustRequest(t, b, "lisbon-2", "Lisbon", glass.ID)
}

func TestRequestTable_ConcurrentClaims(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")

	const racers = 8
	var won, conflicts atomic.Int32
	var g errgroup.Group
	for i := range racers {
		g.Go(func() error {
			_, err := b.Requests().Create(ctx, types.NewRequest{
				Municipality: "Lisbon", Datetime: baseTime, ResidueIDs: []int64{res.ID},
			}, fmt.Sprintf("tok-%d", i), baseTime)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, types.ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())

	reqs, err := b.Requests().List(ctx)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestRequestTable_ConcurrentTransitions(t *testing.T) {
	b, _ := setupBackend(t)
	ctx := context.Background()
	res := mustResidue(t, b, "Glass", "")
	mustRequest(t, b, "tok-1", "Lisbon", res.ID)

	const racers = 8
	var won atomic.Int32
	var g errgroup.Group
	for range racers {
		g.Go(func() error {
			_, err := b.Requests().Transition(ctx, "tok-1", types.ActionAssign, baseTime)
			if err == nil {
				won.Add(1)
				return nil
			}
			if errors.Is(err, types.ErrInvalidTransition) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), won.Load())

	entries, err := b.Statuses().ListByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
