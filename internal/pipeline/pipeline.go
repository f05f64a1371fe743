// Package pipeline orchestrates one matching run: ingest two catalog
// snapshots, normalize, match against the reference set, resolve,
// reconcile prices, persist, and write the report artifacts.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shelfwatch/pricematch/internal/config"
	"github.com/shelfwatch/pricematch/internal/fetcher"
	"github.com/shelfwatch/pricematch/internal/matcher"
	"github.com/shelfwatch/pricematch/internal/model"
	"github.com/shelfwatch/pricematch/internal/normalize"
	"github.com/shelfwatch/pricematch/internal/reconcile"
	"github.com/shelfwatch/pricematch/internal/report"
	"github.com/shelfwatch/pricematch/internal/resolver"
	"github.com/shelfwatch/pricematch/internal/store"
	"github.com/shelfwatch/pricematch/pkg/llmverify"
)

// Result is the outcome of one pipeline run.
type Result struct {
	RunID      string
	Summary    model.RunResult
	Rows       []model.ComparisonRow
	Audit      []model.AuditRecord
	ReportPath string
	AuditPath  string
}

// Pipeline wires the run phases together.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	norm     *normalize.Normalizer
	matcher  *matcher.Matcher
	embedder *matcher.EmbeddingScorer // nil when running lexical-only
	verifier llmverify.Verifier       // nil unless verification enabled
}

// New creates a Pipeline. embedder may be nil for lexical-only runs and
// verifier may be nil when LLM verification is disabled.
func New(cfg *config.Config, st store.Store, norm *normalize.Normalizer, m *matcher.Matcher, embedder *matcher.EmbeddingScorer, verifier llmverify.Verifier) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		norm:     norm,
		matcher:  m,
		embedder: embedder,
		verifier: verifier,
	}
}

// Run executes the full pipeline over two catalog snapshots.
func (p *Pipeline) Run(ctx context.Context, sourceA, sourceB string) (*Result, error) {
	log := zap.L().With(zap.String("source_a", sourceA), zap.String("source_b", sourceB))
	log.Info("pipeline: starting run")
	start := time.Now()

	run, err := p.store.CreateRun(ctx, sourceA, sourceB)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	result := &Result{RunID: run.ID}
	log = log.With(zap.String("run_id", run.ID))

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() error) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		phaseStart := time.Now()
		fnErr := fn()
		duration := time.Since(phaseStart).Milliseconds()

		if fnErr != nil {
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if completeErr := p.store.CompletePhase(ctx, phase.ID, fnErr, duration); completeErr != nil {
				log.Warn("pipeline: failed to complete phase", zap.Error(completeErr))
			}
		}
		return fnErr
	}

	fail := func(err error) (*Result, error) {
		setStatus(model.RunStatusFailed)
		return nil, err
	}

	// The reference snapshot is the matching universe: without it there
	// is nothing to match against, so an unavailable store is fatal.
	var refs []model.ReferenceProduct
	if err := trackPhase("load_references", func() error {
		var loadErr error
		refs, loadErr = p.store.ListReferences(ctx)
		if loadErr != nil {
			return eris.Wrap(loadErr, "pipeline: load reference snapshot")
		}
		if len(refs) == 0 {
			log.Warn("pipeline: reference set is empty; every listing will be unmatched")
		}
		return nil
	}); err != nil {
		return fail(err)
	}

	// Ingest both snapshots in parallel.
	var rawA, rawB []model.RawListing
	if err := trackPhase("ingest", func() error {
		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var ingestErr error
			rawA, ingestErr = fetcher.ReadListings(gCtx, sourceA, model.PlatformA)
			return ingestErr
		})
		g.Go(func() error {
			var ingestErr error
			rawB, ingestErr = fetcher.ReadListings(gCtx, sourceB, model.PlatformB)
			return ingestErr
		})
		return g.Wait()
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusNormalizing)
	raw := make([]model.RawListing, 0, len(rawA)+len(rawB))
	raw = append(raw, rawA...)
	raw = append(raw, rawB...)

	var records []model.NormalizedRecord
	if err := trackPhase("normalize", func() error {
		records = p.normalizeAll(ctx, raw)
		return nil
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusMatching)
	candidates := make([][]model.MatchCandidate, len(records))
	if err := trackPhase("match", func() error {
		if primeErr := p.matcher.Prime(ctx, refs); primeErr != nil {
			return eris.Wrap(primeErr, "pipeline: prime matcher")
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for i := range records {
			g.Go(func() error {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				cands := p.matcher.Candidates(gCtx, records[i], refs)
				candidates[i] = p.verify(gCtx, records[i], cands, refs)
				return nil
			})
		}
		return g.Wait()
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusResolving)
	var resolution *resolver.Result
	if err := trackPhase("resolve", func() error {
		var aliases resolver.AliasAppender
		if p.cfg.Match.AliasLearning {
			aliases = p.store
		}
		r := resolver.New(resolver.Config{
			AcceptThreshold:     p.cfg.Match.AcceptThreshold,
			AmbiguityMargin:     p.cfg.Match.AmbiguityMargin,
			AliasLearning:       p.cfg.Match.AliasLearning,
			AliasLearnThreshold: p.cfg.Match.AliasLearnThreshold,
		}, refs, aliases)

		var resolveErr error
		resolution, resolveErr = r.Resolve(ctx, records, candidates)
		return resolveErr
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusReconciling)
	var rows []model.ComparisonRow
	if err := trackPhase("reconcile", func() error {
		var reconcileErr error
		rows, reconcileErr = reconcile.New(refs).Rows(resolution.Assignments, resolution.UnmatchedHints)
		return reconcileErr
	}); err != nil {
		return fail(err)
	}

	if err := trackPhase("persist", func() error {
		if saveErr := p.store.SaveAssignments(ctx, run.ID, resolution.Assignments); saveErr != nil {
			return saveErr
		}
		if saveErr := p.store.SaveComparisonRows(ctx, run.ID, rows); saveErr != nil {
			return saveErr
		}
		return p.store.SaveAuditRecords(ctx, run.ID, resolution.Audit)
	}); err != nil {
		return fail(err)
	}

	if err := trackPhase("report", func() error {
		reportPath := filepath.Join(p.cfg.Report.OutputDir, run.ID+"-comparison.xlsx")
		if writeErr := report.WriteComparison(reportPath, rows, report.XLSXOptions{
			PctDeltaScale: p.cfg.Report.PctDeltaScale,
		}); writeErr != nil {
			return writeErr
		}
		result.ReportPath = reportPath

		auditPath := filepath.Join(p.cfg.Report.OutputDir, run.ID+"-audit.csv")
		if writeErr := report.WriteAudit(auditPath, resolution.Audit); writeErr != nil {
			return writeErr
		}
		result.AuditPath = auditPath
		return nil
	}); err != nil {
		return fail(err)
	}

	duplicates := 0
	unmatched := 0
	for _, rec := range resolution.Audit {
		switch rec.Outcome {
		case model.OutcomeDuplicateSuppressed:
			duplicates++
		case model.OutcomeUnmatched:
			unmatched++
		}
	}

	summary := model.RunResult{
		ListingsA:       len(rawA),
		ListingsB:       len(rawB),
		Assigned:        len(resolution.Assignments),
		Duplicates:      duplicates,
		Unmatched:       unmatched,
		ComparisonRows:  len(rows),
		AliasesLearned:  resolution.AliasesLearned,
		LexicalFallback: p.matcher.Degraded(),
		DurationMillis:  time.Since(start).Milliseconds(),
	}
	if p.embedder != nil {
		summary.EmbeddingCalls = p.embedder.Calls()
	}

	if err := p.store.UpdateRunResult(ctx, run.ID, &summary); err != nil {
		return fail(eris.Wrap(err, "pipeline: save run result"))
	}

	result.Summary = summary
	result.Rows = rows
	result.Audit = resolution.Audit

	log.Info("pipeline: run complete",
		zap.Int("assigned", summary.Assigned),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("comparison_rows", summary.ComparisonRows),
		zap.Bool("lexical_fallback", summary.LexicalFallback),
		zap.Int64("duration_ms", summary.DurationMillis),
	)
	return result, nil
}

// normalizeAll runs normalization across workers, reassembling results
// by input index so output order never depends on scheduling.
func (p *Pipeline) normalizeAll(ctx context.Context, raw []model.RawListing) []model.NormalizedRecord {
	records := make([]model.NormalizedRecord, len(raw))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i := range raw {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			records[i] = p.norm.Normalize(raw[i])
			return nil
		})
	}
	// Normalization itself cannot fail; only cancellation stops it.
	_ = g.Wait()
	return records
}

// verify optionally narrows candidates through the LLM verifier: the
// confirmed candidate survives alone, an explicit "none" answer clears
// the list. Verifier errors leave the candidates untouched; verification
// refines matching but never takes the run down.
func (p *Pipeline) verify(ctx context.Context, rec model.NormalizedRecord, cands []model.MatchCandidate, refs []model.ReferenceProduct) []model.MatchCandidate {
	if p.verifier == nil || len(cands) == 0 {
		return cands
	}

	byID := make(map[string]string, len(refs))
	for _, ref := range refs {
		byID[ref.ID] = ref.DisplayName
	}
	names := make([]string, 0, len(cands))
	for _, c := range cands {
		names = append(names, byID[c.ReferenceID])
	}

	chosen, ok, err := p.verifier.SameProduct(ctx, rec.Name, names)
	if err != nil {
		zap.L().Warn("verification failed, keeping unverified candidates",
			zap.String("listing_id", rec.ListingID),
			zap.Error(err),
		)
		return cands
	}
	if !ok {
		return nil
	}
	for i, name := range names {
		if strings.EqualFold(name, chosen) {
			return cands[i : i+1]
		}
	}
	return cands
}

func (p *Pipeline) workers() int {
	if p.cfg.Batch.Workers > 0 {
		return p.cfg.Batch.Workers
	}
	return 5
}
