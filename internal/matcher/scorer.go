// Package matcher scores normalized records against the reference catalog
// and produces ranked match candidates. Two scoring strategies exist: the
// primary embedding scorer and a deterministic lexical fallback used when
// the embedding service is unavailable.
package matcher

import (
	"context"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/shelfwatch/pricematch/internal/model"
	"github.com/shelfwatch/pricematch/internal/normalize"
)

// Scorer computes a similarity in [0,1] between a record and a reference
// product. A reference's score is the maximum across its display name and
// all aliases.
type Scorer interface {
	// Method identifies the scoring strategy for audit output.
	Method() model.Method

	// Prime precomputes per-run state for the reference snapshot.
	Prime(ctx context.Context, refs []model.ReferenceProduct) error

	// Score returns the similarity and the reference text that produced it.
	Score(ctx context.Context, rec model.NormalizedRecord, ref model.ReferenceProduct) (float64, string, error)
}

// LexicalScorer is the deterministic fallback: a blend of token overlap
// and edit-distance similarity. No external calls, no state.
type LexicalScorer struct{}

// NewLexicalScorer creates a LexicalScorer.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

func (s *LexicalScorer) Method() model.Method {
	return model.MethodLexical
}

func (s *LexicalScorer) Prime(_ context.Context, _ []model.ReferenceProduct) error {
	return nil
}

func (s *LexicalScorer) Score(_ context.Context, rec model.NormalizedRecord, ref model.ReferenceProduct) (float64, string, error) {
	best := 0.0
	bestText := ""
	for _, text := range ref.MatchTexts() {
		if sim := lexicalSimilarity(rec.Name, normalize.CleanName(text)); sim > best {
			best = sim
			bestText = text
		}
	}
	return best, bestText, nil
}

// lexicalSimilarity blends token-set Jaccard overlap with normalized
// Levenshtein similarity. The blend tolerates both reordered tokens
// ("vit c brandx" vs "brandx vit c") and near-miss spellings.
func lexicalSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	jaccard := tokenJaccard(a, b)
	edit := levenshtein.Similarity(a, b, levenshtein.NewParams())
	return 0.6*jaccard + 0.4*edit
}

func tokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
