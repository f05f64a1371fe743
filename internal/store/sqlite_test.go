package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwatch/pricematch/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteReferenceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := model.ReferenceProduct{
		ID:          "ref-1",
		DisplayName: "Vitamin C 1000mg 30 tablets",
		Brand:       "brandx",
		Aliases:     []string{"vit c 1000mg"},
	}
	require.NoError(t, s.UpsertReference(ctx, ref))

	got, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, ref.DisplayName, got.DisplayName)
	assert.Equal(t, ref.Brand, got.Brand)
	assert.Equal(t, ref.Aliases, got.Aliases)

	// Upsert replaces fields.
	ref.DisplayName = "Vitamin C 1000mg 30 tabs"
	require.NoError(t, s.UpsertReference(ctx, ref))
	got, err = s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "Vitamin C 1000mg 30 tabs", got.DisplayName)
}

func TestSQLiteGetReferenceNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetReference(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteListReferencesSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertReference(ctx, model.ReferenceProduct{ID: "ref-2", DisplayName: "b"}))
	require.NoError(t, s.UpsertReference(ctx, model.ReferenceProduct{ID: "ref-1", DisplayName: "a"}))

	refs, err := s.ListReferences(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "ref-1", refs[0].ID)
	assert.Equal(t, "ref-2", refs[1].ID)
}

func TestSQLiteAppendAliasIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertReference(ctx, model.ReferenceProduct{ID: "ref-1", DisplayName: "Vitamin C"}))

	added, err := s.AppendAlias(ctx, "ref-1", "vit c tablet")
	require.NoError(t, err)
	assert.True(t, added)

	// Same alias again, including case variants, is a no-op.
	added, err = s.AppendAlias(ctx, "ref-1", "Vit C Tablet")
	require.NoError(t, err)
	assert.False(t, added)

	// The display name itself never becomes an alias.
	added, err = s.AppendAlias(ctx, "ref-1", "vitamin c")
	require.NoError(t, err)
	assert.False(t, added)

	got, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vit c tablet"}, got.Aliases)
}

func TestSQLiteAppendAliasMissingReference(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendAlias(context.Background(), "missing", "alias")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "b.csv")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusMatching))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusMatching, got.Status)
	assert.Equal(t, "a.csv", got.SourceA)
	assert.Nil(t, got.Result)

	result := &model.RunResult{ListingsA: 10, ListingsB: 12, Assigned: 8, ComparisonRows: 6}
	require.NoError(t, s.UpdateRunResult(ctx, run.ID, result))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 8, got.Result.Assigned)
}

func TestSQLiteUpdateRunStatusNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteListRunsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, err := s.CreateRun(ctx, "a.csv", "b.csv")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "c.csv", "d.csv")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, model.RunStatusFailed))

	failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, r1.ID, failed[0].ID)

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLitePhases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "b.csv")
	require.NoError(t, err)

	phase, err := s.CreatePhase(ctx, run.ID, "normalize")
	require.NoError(t, err)
	assert.Equal(t, "running", phase.Status)

	require.NoError(t, s.CompletePhase(ctx, phase.ID, nil, 120))

	failing, err := s.CreatePhase(ctx, run.ID, "match")
	require.NoError(t, err)
	require.NoError(t, s.CompletePhase(ctx, failing.ID, eris.New("embedding provider down"), 50))
}

func TestSQLiteRunOutputsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "b.csv")
	require.NoError(t, err)

	assignments := []model.ResolvedAssignment{
		{
			ReferenceID: "ref-1",
			Platform:    model.PlatformA,
			ListingID:   "a1",
			Price:       decimal.RequireFromString("120.50"),
			Currency:    "THB",
			Available:   true,
			Confidence:  0.95,
			Method:      model.MethodEmbedding,
		},
	}
	require.NoError(t, s.SaveAssignments(ctx, run.ID, assignments))

	priceA := decimal.RequireFromString("120.50")
	priceB := decimal.RequireFromString("99.90")
	delta := decimal.RequireFromString("20.60")
	rows := []model.ComparisonRow{
		{
			ReferenceID:    "ref-1",
			DisplayName:    "Vitamin C",
			PricePlatformA: &priceA,
			PricePlatformB: &priceB,
			Delta:          &delta,
			Cheaper:        model.CheaperB,
		},
	}
	require.NoError(t, s.SaveComparisonRows(ctx, run.ID, rows))

	gotRows, err := s.GetComparisonRows(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, gotRows, 1)
	require.NotNil(t, gotRows[0].Delta)
	assert.True(t, gotRows[0].Delta.Equal(delta))
	assert.Equal(t, model.CheaperB, gotRows[0].Cheaper)

	audit := []model.AuditRecord{
		{ListingID: "b2", Platform: model.PlatformB, Name: "mystery item", Outcome: model.OutcomeUnmatched, Reason: model.ReasonNoCandidates},
	}
	require.NoError(t, s.SaveAuditRecords(ctx, run.ID, audit))

	gotAudit, err := s.GetAuditRecords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, gotAudit, 1)
	assert.Equal(t, model.ReasonNoCandidates, gotAudit[0].Reason)
}
