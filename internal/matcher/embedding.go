package matcher

import (
	"context"
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shelfwatch/pricematch/internal/model"
	"github.com/shelfwatch/pricematch/internal/resilience"
	"github.com/shelfwatch/pricematch/pkg/embed"
)

// EmbeddingScorer scores by cosine similarity of text embeddings. Vectors
// are cached per exact input string for the lifetime of the scorer, since
// repeated runs re-embed near-identical names. All service calls go
// through the retry policy, the rate limiter, and the circuit breaker.
type EmbeddingScorer struct {
	client    embed.Client
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	limiter   *rate.Limiter
	batchSize int

	mu    sync.Mutex
	cache map[string][]float64
	calls int
}

// EmbeddingScorerConfig wires the scorer's external-call policy.
type EmbeddingScorerConfig struct {
	Retry     resilience.RetryConfig
	Breaker   *resilience.CircuitBreaker
	RateLimit float64 // embedding calls per second; 0 disables limiting
	BatchSize int
}

// NewEmbeddingScorer creates an EmbeddingScorer.
func NewEmbeddingScorer(client embed.Client, cfg EmbeddingScorerConfig) *EmbeddingScorer {
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &EmbeddingScorer{
		client:    client,
		retry:     cfg.Retry,
		breaker:   cfg.Breaker,
		limiter:   rate.NewLimiter(limit, 1),
		batchSize: cfg.BatchSize,
	}
}

func (s *EmbeddingScorer) Method() model.Method {
	return model.MethodEmbedding
}

// Prime embeds every reference display name and alias up front so that
// per-record scoring only ever embeds the record's own name.
func (s *EmbeddingScorer) Prime(ctx context.Context, refs []model.ReferenceProduct) error {
	var texts []string
	for _, ref := range refs {
		texts = append(texts, ref.MatchTexts()...)
	}
	return s.ensure(ctx, texts)
}

func (s *EmbeddingScorer) Score(ctx context.Context, rec model.NormalizedRecord, ref model.ReferenceProduct) (float64, string, error) {
	if err := s.ensure(ctx, []string{rec.Name}); err != nil {
		return 0, "", err
	}

	s.mu.Lock()
	recVec := s.cache[rec.Name]
	s.mu.Unlock()

	best := 0.0
	bestText := ""
	for _, text := range ref.MatchTexts() {
		s.mu.Lock()
		refVec, ok := s.cache[text]
		s.mu.Unlock()
		if !ok {
			// Reference text appeared after Prime (e.g. a just-learned
			// alias); embed it on demand.
			if err := s.ensure(ctx, []string{text}); err != nil {
				return 0, "", err
			}
			s.mu.Lock()
			refVec = s.cache[text]
			s.mu.Unlock()
		}

		if sim := cosine(recVec, refVec); sim > best {
			best = sim
			bestText = text
		}
	}
	return best, bestText, nil
}

// CacheSize reports the number of cached embeddings.
func (s *EmbeddingScorer) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// Calls reports how many embedding API requests were made.
func (s *EmbeddingScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ensure embeds any of the given texts not yet in the cache.
func (s *EmbeddingScorer) ensure(ctx context.Context, texts []string) error {
	s.mu.Lock()
	if s.cache == nil {
		s.cache = make(map[string][]float64)
	}
	var missing []string
	seen := make(map[string]bool, len(texts))
	for _, t := range texts {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if _, ok := s.cache[t]; !ok {
			missing = append(missing, t)
		}
	}
	s.mu.Unlock()

	for start := 0; start < len(missing); start += s.batchSize {
		end := min(start+s.batchSize, len(missing))
		batch := missing[start:end]

		if err := s.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "matcher: rate limiter")
		}

		vectors, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([][]float64, error) {
			var out [][]float64
			execErr := s.breaker.Execute(ctx, func(ctx context.Context) error {
				var embedErr error
				out, embedErr = s.client.Embed(ctx, batch)
				return embedErr
			})
			return out, execErr
		})
		if err != nil {
			return eris.Wrap(err, "matcher: embed batch")
		}

		s.mu.Lock()
		s.calls++
		for i, t := range batch {
			s.cache[t] = vectors[i]
		}
		s.mu.Unlock()
	}

	return nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
