// Package resolver converts ranked match candidates into final
// assignments of platform listings to canonical products. Every input
// listing ends up in exactly one of: assigned, duplicate_suppressed, or
// unmatched with a reason — nothing is silently dropped.
package resolver

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
)

// ErrInvariantViolation signals a bug in collision handling: two surviving
// assignments for the same (reference, platform) pair. It is fatal for
// the run because it would corrupt the price comparison downstream.
var ErrInvariantViolation = eris.New("resolver: duplicate (reference, platform) assignment survived resolution")

// AliasAppender is the narrow write interface for alias learning. The
// implementation must be idempotent: appending a known alias is a no-op.
type AliasAppender interface {
	AppendAlias(ctx context.Context, referenceID, alias string) (bool, error)
}

// Config is the resolution policy.
type Config struct {
	// AcceptThreshold is the minimum top score to accept a match. A score
	// exactly at the threshold is accepted.
	AcceptThreshold float64

	// AmbiguityMargin is the minimum lead the top candidate must hold
	// over the runner-up.
	AmbiguityMargin float64

	// AliasLearning enables appending accepted names as aliases.
	AliasLearning bool

	// AliasLearnThreshold is the minimum score for alias learning.
	AliasLearnThreshold float64
}

// Result is the complete resolution outcome for a run.
type Result struct {
	Assignments    []model.ResolvedAssignment
	Audit          []model.AuditRecord
	AliasesLearned int

	// UnmatchedHints maps reference → platform → the unmatched reason of
	// the best rejected candidate, for audit traceability when one side
	// of a comparison is missing.
	UnmatchedHints map[string]map[model.Platform]model.UnmatchedReason
}

// Resolver applies the decision policy.
type Resolver struct {
	cfg     Config
	refs    map[string]*model.ReferenceProduct
	aliases AliasAppender
}

// New creates a Resolver over a reference snapshot. aliases may be nil
// when alias learning is disabled.
func New(cfg Config, refs []model.ReferenceProduct, aliases AliasAppender) *Resolver {
	byID := make(map[string]*model.ReferenceProduct, len(refs))
	for i := range refs {
		byID[refs[i].ID] = &refs[i]
	}
	return &Resolver{cfg: cfg, refs: byID, aliases: aliases}
}

// Resolve takes one candidate list per record (candidates[i] belongs to
// records[i], descending score) and produces the run's assignments and
// audit trail. Output is a pure function of the input multiset: all
// grouping and tie-breaking uses deterministic secondary keys.
func (r *Resolver) Resolve(ctx context.Context, records []model.NormalizedRecord, candidates [][]model.MatchCandidate) (*Result, error) {
	if len(records) != len(candidates) {
		return nil, eris.Errorf("resolver: %d records but %d candidate lists", len(records), len(candidates))
	}

	res := &Result{
		UnmatchedHints: make(map[string]map[model.Platform]model.UnmatchedReason),
	}

	type provisional struct {
		assignment model.ResolvedAssignment
		name       string
	}
	accepted := make([]provisional, 0, len(records))

	for i, rec := range records {
		cands := candidates[i]

		if rec.Unparsable {
			res.Audit = append(res.Audit, unmatchedAudit(rec, model.ReasonUnparsable, nil))
			continue
		}
		if len(cands) == 0 {
			res.Audit = append(res.Audit, unmatchedAudit(rec, model.ReasonNoCandidates, nil))
			continue
		}

		top := cands[0]
		second := 0.0
		if len(cands) > 1 {
			second = cands[1].Score
		}

		switch {
		case top.Score < r.cfg.AcceptThreshold:
			res.Audit = append(res.Audit, unmatchedAudit(rec, model.ReasonBelowThreshold, &top))
			r.hint(res, top.ReferenceID, rec.Platform, model.ReasonBelowThreshold)
		case top.Score-second < r.cfg.AmbiguityMargin:
			res.Audit = append(res.Audit, unmatchedAudit(rec, model.ReasonAmbiguous, &top))
			r.hint(res, top.ReferenceID, rec.Platform, model.ReasonAmbiguous)
		default:
			accepted = append(accepted, provisional{
				assignment: model.ResolvedAssignment{
					ReferenceID: top.ReferenceID,
					Platform:    rec.Platform,
					ListingID:   rec.ListingID,
					Price:       rec.Price,
					Currency:    rec.Currency,
					Available:   rec.Available,
					Confidence:  top.Score,
					Method:      top.Method,
				},
				name: rec.Name,
			})
		}
	}

	// Collision rule: at most one assignment per (reference, platform).
	// Highest confidence wins; ties break on listing ID.
	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i].assignment, accepted[j].assignment
		if a.ReferenceID != b.ReferenceID {
			return a.ReferenceID < b.ReferenceID
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ListingID < b.ListingID
	})

	type slot struct {
		refID    string
		platform model.Platform
	}
	winners := make(map[slot]bool, len(accepted))
	for _, p := range accepted {
		a := p.assignment
		key := slot{a.ReferenceID, a.Platform}
		if winners[key] {
			res.Audit = append(res.Audit, model.AuditRecord{
				ListingID:   a.ListingID,
				Platform:    a.Platform,
				Name:        p.name,
				Outcome:     model.OutcomeDuplicateSuppressed,
				ReferenceID: a.ReferenceID,
				Score:       a.Confidence,
			})
			zap.L().Debug("duplicate listing suppressed",
				zap.String("listing_id", a.ListingID),
				zap.String("reference_id", a.ReferenceID),
				zap.String("platform", string(a.Platform)),
			)
			continue
		}
		winners[key] = true
		res.Assignments = append(res.Assignments, a)

		learned, err := r.learnAlias(ctx, a, p.name)
		if err != nil {
			return nil, err
		}
		if learned {
			res.AliasesLearned++
		}
	}

	if err := checkInvariant(res.Assignments); err != nil {
		return nil, err
	}

	// Stable audit order: by listing ID, then platform.
	sort.SliceStable(res.Audit, func(i, j int) bool {
		if res.Audit[i].ListingID != res.Audit[j].ListingID {
			return res.Audit[i].ListingID < res.Audit[j].ListingID
		}
		return res.Audit[i].Platform < res.Audit[j].Platform
	})

	return res, nil
}

func (r *Resolver) learnAlias(ctx context.Context, a model.ResolvedAssignment, name string) (bool, error) {
	if !r.cfg.AliasLearning || r.aliases == nil {
		return false, nil
	}
	if a.Confidence < r.cfg.AliasLearnThreshold {
		return false, nil
	}
	ref, ok := r.refs[a.ReferenceID]
	if !ok || ref.HasAlias(name) {
		return false, nil
	}

	added, err := r.aliases.AppendAlias(ctx, a.ReferenceID, name)
	if err != nil {
		return false, eris.Wrapf(err, "resolver: append alias %q to %s", name, a.ReferenceID)
	}
	if added {
		ref.AddAlias(name)
		zap.L().Info("alias learned",
			zap.String("reference_id", a.ReferenceID),
			zap.String("alias", name),
			zap.Float64("confidence", a.Confidence),
		)
	}
	return added, nil
}

func unmatchedAudit(rec model.NormalizedRecord, reason model.UnmatchedReason, top *model.MatchCandidate) model.AuditRecord {
	audit := model.AuditRecord{
		ListingID: rec.ListingID,
		Platform:  rec.Platform,
		Name:      rec.Name,
		Outcome:   model.OutcomeUnmatched,
		Reason:    reason,
	}
	if top != nil {
		audit.ReferenceID = top.ReferenceID
		audit.Score = top.Score
	}
	return audit
}

// hint records the best rejected candidate per (reference, platform) so a
// half-empty comparison row can say why the other side is missing. The
// first (highest-ranked) rejection per slot wins since records arrive in
// deterministic input order.
func (r *Resolver) hint(res *Result, refID string, platform model.Platform, reason model.UnmatchedReason) {
	byPlatform, ok := res.UnmatchedHints[refID]
	if !ok {
		byPlatform = make(map[model.Platform]model.UnmatchedReason)
		res.UnmatchedHints[refID] = byPlatform
	}
	if _, exists := byPlatform[platform]; !exists {
		byPlatform[platform] = reason
	}
}

func checkInvariant(assignments []model.ResolvedAssignment) error {
	seen := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		key := a.ReferenceID + "|" + string(a.Platform)
		if seen[key] {
			zap.L().Error("resolution invariant violated",
				zap.String("reference_id", a.ReferenceID),
				zap.String("platform", string(a.Platform)),
			)
			return ErrInvariantViolation
		}
		seen[key] = true
	}
	return nil
}
