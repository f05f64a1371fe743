package matcher

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
)

// Config controls candidate generation.
type Config struct {
	// TopK caps how many candidates are returned per record.
	TopK int
}

// Matcher generates ranked match candidates for one record at a time.
// The primary scorer is tried first; any scoring error degrades the rest
// of the run to the fallback scorer rather than failing the run.
type Matcher struct {
	primary  Scorer
	fallback Scorer
	cfg      Config

	mu       sync.Mutex
	degraded bool
}

// New creates a Matcher. fallback must never return an error.
func New(primary, fallback Scorer, cfg Config) *Matcher {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Matcher{primary: primary, fallback: fallback, cfg: cfg}
}

// Degraded reports whether the matcher has fallen back to lexical scoring.
func (m *Matcher) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Prime prepares the active scorer for the reference snapshot. A failure
// to prime the primary scorer degrades the whole run immediately.
func (m *Matcher) Prime(ctx context.Context, refs []model.ReferenceProduct) error {
	if err := m.primary.Prime(ctx, refs); err != nil {
		m.degrade(err)
	}
	return m.fallback.Prime(ctx, refs)
}

// Candidates scores rec against every reference and returns candidates in
// descending score order, capped at TopK. Ties are broken by reference ID
// so output is deterministic. Unparsable records yield no candidates.
func (m *Matcher) Candidates(ctx context.Context, rec model.NormalizedRecord, refs []model.ReferenceProduct) []model.MatchCandidate {
	if rec.Unparsable || rec.Name == "" {
		return nil
	}

	scorer := m.activeScorer()
	candidates := make([]model.MatchCandidate, 0, len(refs))

	for _, ref := range refs {
		// Brand gate: conflicting resolvable brands suppress the candidate
		// regardless of name similarity. Generic descriptors collide across
		// brands too often to trust the name alone.
		if rec.Brand != "" && ref.Brand != "" && !strings.EqualFold(rec.Brand, ref.Brand) {
			continue
		}

		score, text, err := scorer.Score(ctx, rec, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.degrade(err)
			scorer = m.fallback
			score, text, _ = scorer.Score(ctx, rec, ref)
		}

		candidates = append(candidates, model.MatchCandidate{
			Record:      rec,
			ReferenceID: ref.ID,
			Score:       score,
			Method:      scorer.Method(),
			MatchedText: text,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ReferenceID < candidates[j].ReferenceID
	})

	if len(candidates) > m.cfg.TopK {
		candidates = candidates[:m.cfg.TopK]
	}
	return candidates
}

func (m *Matcher) activeScorer() Scorer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded {
		return m.fallback
	}
	return m.primary
}

// degrade switches the run to the fallback scorer, logging only on the
// first occurrence so a failing service does not flood the log.
func (m *Matcher) degrade(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded {
		return
	}
	m.degraded = true
	zap.L().Warn("embedding scoring unavailable, falling back to lexical",
		zap.String("fallback", string(m.fallback.Method())),
		zap.Error(err),
	)
}
