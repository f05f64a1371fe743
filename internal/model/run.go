package model

import "time"

// RunStatus represents the current state of a matching run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusMatching    RunStatus = "matching"
	RunStatusResolving   RunStatus = "resolving"
	RunStatusReconciling RunStatus = "reconciling"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run represents a single matching + reconciliation run.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	SourceA   string     `json:"source_a"`
	SourceB   string     `json:"source_b"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult summarizes a completed run.
type RunResult struct {
	ListingsA       int   `json:"listings_a"`
	ListingsB       int   `json:"listings_b"`
	Assigned        int   `json:"assigned"`
	Duplicates      int   `json:"duplicates"`
	Unmatched       int   `json:"unmatched"`
	ComparisonRows  int   `json:"comparison_rows"`
	AliasesLearned  int   `json:"aliases_learned"`
	EmbeddingCalls  int   `json:"embedding_calls"`
	LexicalFallback bool  `json:"lexical_fallback"`
	DurationMillis  int64 `json:"duration_ms"`
}

// RunPhase tracks the execution of one pipeline phase within a run.
type RunPhase struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`
}
