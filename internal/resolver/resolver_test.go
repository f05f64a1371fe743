package resolver

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwatch/pricematch/internal/model"
)

type fakeAliases struct {
	calls   []string
	added   map[string]map[string]bool
	failErr error
}

func newFakeAliases() *fakeAliases {
	return &fakeAliases{added: make(map[string]map[string]bool)}
}

func (f *fakeAliases) AppendAlias(_ context.Context, referenceID, alias string) (bool, error) {
	f.calls = append(f.calls, referenceID+"|"+alias)
	if f.failErr != nil {
		return false, f.failErr
	}
	if f.added[referenceID] == nil {
		f.added[referenceID] = make(map[string]bool)
	}
	if f.added[referenceID][alias] {
		return false, nil
	}
	f.added[referenceID][alias] = true
	return true, nil
}

func testConfig() Config {
	return Config{
		AcceptThreshold: 0.8,
		AmbiguityMargin: 0.05,
	}
}

func rec(id string, platform model.Platform, name string) model.NormalizedRecord {
	return model.NormalizedRecord{
		ListingID: id,
		Platform:  platform,
		Name:      name,
		Price:     decimal.NewFromFloat(99.0),
		Currency:  "THB",
		Available: true,
	}
}

func cand(refID string, score float64) model.MatchCandidate {
	return model.MatchCandidate{ReferenceID: refID, Score: score, Method: model.MethodEmbedding}
}

func refs(ids ...string) []model.ReferenceProduct {
	out := make([]model.ReferenceProduct, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ReferenceProduct{ID: id, DisplayName: "product " + id})
	}
	return out
}

func TestResolveThresholdBoundary(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	// Exactly at the threshold is accepted.
	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{rec("l1", model.PlatformA, "vitamin c")},
		[][]model.MatchCandidate{{cand("ref-1", 0.8)}},
	)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "ref-1", res.Assignments[0].ReferenceID)
	assert.Empty(t, res.Audit)

	// Just below is rejected with below_threshold.
	res, err = r.Resolve(context.Background(),
		[]model.NormalizedRecord{rec("l1", model.PlatformA, "vitamin c")},
		[][]model.MatchCandidate{{cand("ref-1", 0.7999)}},
	)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, model.OutcomeUnmatched, res.Audit[0].Outcome)
	assert.Equal(t, model.ReasonBelowThreshold, res.Audit[0].Reason)
	assert.Equal(t, "ref-1", res.Audit[0].ReferenceID)
}

func TestResolveAmbiguityMargin(t *testing.T) {
	r := New(testConfig(), refs("ref-1", "ref-2"), nil)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{rec("l1", model.PlatformA, "fish oil")},
		[][]model.MatchCandidate{{cand("ref-1", 0.90), cand("ref-2", 0.88)}},
	)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, model.ReasonAmbiguous, res.Audit[0].Reason)

	// A clear lead over the runner-up is accepted.
	res, err = r.Resolve(context.Background(),
		[]model.NormalizedRecord{rec("l1", model.PlatformA, "fish oil")},
		[][]model.MatchCandidate{{cand("ref-1", 0.95), cand("ref-2", 0.88)}},
	)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "ref-1", res.Assignments[0].ReferenceID)
}

func TestResolveUnparsableAndNoCandidates(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	bad := rec("l1", model.PlatformA, "")
	bad.Unparsable = true

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{bad, rec("l2", model.PlatformA, "collagen")},
		[][]model.MatchCandidate{nil, {}},
	)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	require.Len(t, res.Audit, 2)
	assert.Equal(t, model.ReasonUnparsable, res.Audit[0].Reason)
	assert.Equal(t, model.ReasonNoCandidates, res.Audit[1].Reason)
}

func TestResolveCollisionHigherConfidenceWins(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{
			rec("l1", model.PlatformA, "vitamin c 1000mg"),
			rec("l2", model.PlatformA, "vitamin c 1000 mg"),
		},
		[][]model.MatchCandidate{
			{cand("ref-1", 0.91)},
			{cand("ref-1", 0.97)},
		},
	)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "l2", res.Assignments[0].ListingID)

	require.Len(t, res.Audit, 1)
	assert.Equal(t, "l1", res.Audit[0].ListingID)
	assert.Equal(t, model.OutcomeDuplicateSuppressed, res.Audit[0].Outcome)
	assert.Equal(t, "ref-1", res.Audit[0].ReferenceID)
}

func TestResolveCollisionTieBreaksOnListingID(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{
			rec("l2", model.PlatformA, "vitamin c"),
			rec("l1", model.PlatformA, "vitamin c"),
		},
		[][]model.MatchCandidate{
			{cand("ref-1", 0.9)},
			{cand("ref-1", 0.9)},
		},
	)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "l1", res.Assignments[0].ListingID)
}

func TestResolveSamePlatformsDoNotCollideAcrossPlatforms(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{
			rec("a1", model.PlatformA, "zinc"),
			rec("b1", model.PlatformB, "zinc"),
		},
		[][]model.MatchCandidate{
			{cand("ref-1", 0.9)},
			{cand("ref-1", 0.9)},
		},
	)
	require.NoError(t, err)
	assert.Len(t, res.Assignments, 2)
	assert.Empty(t, res.Audit)
}

func TestResolveEveryRecordHasExactlyOneOutcome(t *testing.T) {
	r := New(testConfig(), refs("ref-1", "ref-2"), nil)

	bad := rec("l5", model.PlatformB, "")
	bad.Unparsable = true

	records := []model.NormalizedRecord{
		rec("l1", model.PlatformA, "vitamin c"),
		rec("l2", model.PlatformA, "vitamin c chewable"),
		rec("l3", model.PlatformB, "fish oil"),
		rec("l4", model.PlatformA, "unknown thing"),
		bad,
	}
	candidates := [][]model.MatchCandidate{
		{cand("ref-1", 0.95)},
		{cand("ref-1", 0.90)},
		{cand("ref-2", 0.88)},
		{cand("ref-2", 0.30)},
		nil,
	}

	res, err := r.Resolve(context.Background(), records, candidates)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, a := range res.Assignments {
		seen[a.ListingID]++
	}
	for _, a := range res.Audit {
		seen[a.ListingID]++
	}
	require.Len(t, seen, len(records))
	for _, rec := range records {
		assert.Equal(t, 1, seen[rec.ListingID], "listing %s", rec.ListingID)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := New(testConfig(), refs("ref-1", "ref-2"), nil)

	records := []model.NormalizedRecord{
		rec("l3", model.PlatformB, "fish oil"),
		rec("l1", model.PlatformA, "vitamin c"),
		rec("l2", model.PlatformA, "vitamin c serum"),
	}
	candidates := [][]model.MatchCandidate{
		{cand("ref-2", 0.88)},
		{cand("ref-1", 0.95)},
		{cand("ref-1", 0.95)},
	}

	first, err := r.Resolve(context.Background(), records, candidates)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), records, candidates)
	require.NoError(t, err)

	assert.Equal(t, first.Assignments, second.Assignments)
	assert.Equal(t, first.Audit, second.Audit)
}

func TestResolveAliasLearning(t *testing.T) {
	cfg := testConfig()
	cfg.AliasLearning = true
	cfg.AliasLearnThreshold = 0.92

	appender := newFakeAliases()
	r := New(cfg, refs("ref-1", "ref-2"), appender)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{
			rec("l1", model.PlatformA, "vit c 1000mg tablet"),
			rec("l2", model.PlatformB, "fish oil"),
		},
		[][]model.MatchCandidate{
			{cand("ref-1", 0.95)},
			{cand("ref-2", 0.85)}, // accepted but below learn threshold
		},
	)
	require.NoError(t, err)
	assert.Len(t, res.Assignments, 2)
	assert.Equal(t, 1, res.AliasesLearned)
	assert.True(t, appender.added["ref-1"]["vit c 1000mg tablet"])
	assert.Empty(t, appender.added["ref-2"])
}

func TestResolveAliasLearningIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.AliasLearning = true
	cfg.AliasLearnThreshold = 0.9

	appender := newFakeAliases()
	r := New(cfg, refs("ref-1"), appender)

	records := []model.NormalizedRecord{rec("l1", model.PlatformA, "vit c tablet")}
	candidates := [][]model.MatchCandidate{{cand("ref-1", 0.95)}}

	res, err := r.Resolve(context.Background(), records, candidates)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AliasesLearned)
	assert.Len(t, appender.calls, 1)

	// Second run over the same data: the in-memory snapshot already has
	// the alias, so the store is not touched again.
	res, err = r.Resolve(context.Background(), records, candidates)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AliasesLearned)
	assert.Len(t, appender.calls, 1)
}

func TestResolveAliasLearningSkipsExistingAlias(t *testing.T) {
	cfg := testConfig()
	cfg.AliasLearning = true
	cfg.AliasLearnThreshold = 0.9

	appender := newFakeAliases()
	known := model.ReferenceProduct{ID: "ref-1", DisplayName: "Vitamin C", Aliases: []string{"vit c tablet"}}
	r := New(cfg, []model.ReferenceProduct{known}, appender)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{rec("l1", model.PlatformA, "vit c tablet")},
		[][]model.MatchCandidate{{cand("ref-1", 0.95)}},
	)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AliasesLearned)
	assert.Empty(t, appender.calls)
}

func TestResolveUnmatchedHints(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	res, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{
			rec("l1", model.PlatformA, "vitamin c"),
			rec("l2", model.PlatformB, "vitamim c spelled oddly"),
		},
		[][]model.MatchCandidate{
			{cand("ref-1", 0.95)},
			{cand("ref-1", 0.60)},
		},
	)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	require.Contains(t, res.UnmatchedHints, "ref-1")
	assert.Equal(t, model.ReasonBelowThreshold, res.UnmatchedHints["ref-1"][model.PlatformB])
}

func TestResolveLengthMismatch(t *testing.T) {
	r := New(testConfig(), refs("ref-1"), nil)

	_, err := r.Resolve(context.Background(),
		[]model.NormalizedRecord{rec("l1", model.PlatformA, "zinc")},
		nil,
	)
	assert.Error(t, err)
}
