package model

import (
	"github.com/shopspring/decimal"
)

// Method records which scoring strategy produced a match.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodLexical   Method = "lexical"
	MethodUnmatched Method = "unmatched"
)

// UnmatchedReason is the closed set of reasons a record can fail to match.
// These are expected, frequent outcomes — not errors.
type UnmatchedReason string

const (
	ReasonBelowThreshold UnmatchedReason = "below_threshold"
	ReasonAmbiguous      UnmatchedReason = "ambiguous"
	ReasonUnparsable     UnmatchedReason = "unparsable"
	ReasonNoCandidates   UnmatchedReason = "no_candidates"
)

// OutcomeKind is the closed set of resolution outcomes for a listing.
type OutcomeKind string

const (
	OutcomeAssigned            OutcomeKind = "assigned"
	OutcomeDuplicateSuppressed OutcomeKind = "duplicate_suppressed"
	OutcomeUnmatched           OutcomeKind = "unmatched"
)

// MatchCandidate pairs a normalized record with a reference product and a
// similarity score. Ephemeral: many candidates may exist per record,
// exactly one survives resolution.
type MatchCandidate struct {
	Record      NormalizedRecord `json:"record"`
	ReferenceID string           `json:"reference_id"`
	Score       float64          `json:"score"`
	Method      Method           `json:"method"`
	MatchedText string           `json:"matched_text,omitempty"`
}

// ResolvedAssignment maps one platform listing to a canonical product.
// Invariant: at most one per (reference, platform) per run.
type ResolvedAssignment struct {
	ReferenceID string          `json:"reference_id"`
	Platform    Platform        `json:"platform"`
	ListingID   string          `json:"listing_id"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Available   bool            `json:"available"`
	Confidence  float64         `json:"confidence"`
	Method      Method          `json:"method"`
}

// AuditRecord is one entry in the run's audit output: a listing that was
// suppressed as a duplicate or left unmatched, with its reason.
type AuditRecord struct {
	ListingID   string          `json:"listing_id" csv:"listing_id"`
	Platform    Platform        `json:"platform" csv:"platform"`
	Name        string          `json:"name" csv:"name"`
	Outcome     OutcomeKind     `json:"outcome" csv:"outcome"`
	Reason      UnmatchedReason `json:"reason,omitempty" csv:"reason,omitempty"`
	ReferenceID string          `json:"reference_id,omitempty" csv:"reference_id,omitempty"`
	Score       float64         `json:"score,omitempty" csv:"score,omitempty"`
}

// ComparisonRow is one row of the price-comparison dataset: one per
// reference product with at least one assignment in the run. Absence of a
// platform's price is explicit, never an omitted row.
type ComparisonRow struct {
	ReferenceID      string           `json:"reference_id"`
	DisplayName      string           `json:"display_name"`
	PricePlatformA   *decimal.Decimal `json:"price_platform_a,omitempty"`
	PricePlatformB   *decimal.Decimal `json:"price_platform_b,omitempty"`
	AvailableA       *bool            `json:"available_a,omitempty"`
	AvailableB       *bool            `json:"available_b,omitempty"`
	Delta            *decimal.Decimal `json:"delta,omitempty"`
	PctDelta         *decimal.Decimal `json:"pct_delta,omitempty"`
	Cheaper          Cheaper          `json:"cheaper,omitempty"`
	UnmatchedReasonA UnmatchedReason  `json:"unmatched_reason_a,omitempty"`
	UnmatchedReasonB UnmatchedReason  `json:"unmatched_reason_b,omitempty"`
}

// Cheaper indicates which platform offers the lower price.
type Cheaper string

const (
	CheaperA   Cheaper = "platform_a"
	CheaperB   Cheaper = "platform_b"
	CheaperTie Cheaper = "tie"
)
