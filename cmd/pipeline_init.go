package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/matcher"
	"github.com/shelfwatch/pricematch/internal/normalize"
	"github.com/shelfwatch/pricematch/internal/pipeline"
	"github.com/shelfwatch/pricematch/internal/resilience"
	"github.com/shelfwatch/pricematch/internal/store"
	"github.com/shelfwatch/pricematch/pkg/embed"
	"github.com/shelfwatch/pricematch/pkg/llmverify"
)

// pipelineEnv holds the initialized store, scorers, and the pipeline
// needed by the run/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, the normalizer, the scoring chain, and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := normalize.LoadRules(cfg.Normalize.RulesPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load normalization rules")
	}
	norm := normalize.New(rules)

	// Embedding scorer is optional. Without an API key runs score with
	// the lexical fallback only.
	var embedder *matcher.EmbeddingScorer
	if cfg.Embed.Key != "" {
		client := embed.NewClient(cfg.Embed.Key,
			embed.WithBaseURL(cfg.Embed.BaseURL),
			embed.WithModel(cfg.Embed.Model),
			embed.WithTimeout(embedTimeout(cfg.Embed.TimeoutSecs)),
		)
		embedder = matcher.NewEmbeddingScorer(client, matcher.EmbeddingScorerConfig{
			Retry:     resilience.FromConfig(cfg.Embed.MaxAttempts, cfg.Embed.InitialBackoffMs, cfg.Embed.MaxBackoffMs),
			RateLimit: cfg.Embed.RateLimit,
			BatchSize: cfg.Embed.MaxBatchSize,
		})
		zap.L().Info("embedding scorer enabled", zap.String("model", cfg.Embed.Model))
	} else {
		zap.L().Warn("PRICEMATCH_EMBED_KEY not set, matching with lexical scorer only")
	}

	var primary matcher.Scorer = matcher.NewLexicalScorer()
	if embedder != nil {
		primary = embedder
	}
	m := matcher.New(primary, matcher.NewLexicalScorer(), matcher.Config{TopK: cfg.Match.TopK})

	var verifier llmverify.Verifier
	if cfg.Verify.Enabled {
		if cfg.Verify.Key == "" {
			_ = st.Close()
			return nil, eris.New("verification enabled but PRICEMATCH_VERIFY_KEY is not set")
		}
		verifier = llmverify.New(cfg.Verify.Key, llmverify.Config{
			Model:     cfg.Verify.Model,
			MaxTokens: cfg.Verify.MaxTokens,
		})
		zap.L().Info("llm verification enabled", zap.String("model", cfg.Verify.Model))
	}

	p := pipeline.New(cfg, st, norm, m, embedder, verifier)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
	}, nil
}

func embedTimeout(secs int) time.Duration {
	if secs <= 0 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
}
