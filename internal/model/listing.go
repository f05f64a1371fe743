package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies the e-commerce platform a listing was scraped from.
type Platform string

const (
	PlatformA Platform = "platform_a"
	PlatformB Platform = "platform_b"
)

// Valid reports whether p is one of the two supported platforms.
func (p Platform) Valid() bool {
	return p == PlatformA || p == PlatformB
}

// Other returns the opposite platform.
func (p Platform) Other() Platform {
	if p == PlatformA {
		return PlatformB
	}
	return PlatformA
}

// RawListing is one scraped product observation. Immutable once created;
// a re-scrape produces a new RawListing rather than mutating in place.
type RawListing struct {
	ID        string          `json:"id" csv:"id"`
	Platform  Platform        `json:"platform" csv:"platform"`
	RawName   string          `json:"raw_name" csv:"raw_name"`
	BrandHint string          `json:"brand_hint" csv:"brand_hint,omitempty"`
	SizeHint  string          `json:"size_hint" csv:"size_hint,omitempty"`
	Price     decimal.Decimal `json:"price" csv:"price"`
	Currency  string          `json:"currency" csv:"currency"`
	Available bool            `json:"available" csv:"available"`
	ScrapedAt time.Time       `json:"scraped_at" csv:"scraped_at"`
	SourceURL string          `json:"source_url" csv:"source_url,omitempty"`
}

// NormalizedRecord is derived from a RawListing by the normalizer. It is
// owned by the pipeline run that created it and is not persisted unless
// promoted into a match result.
type NormalizedRecord struct {
	ListingID  string          `json:"listing_id"`
	Platform   Platform        `json:"platform"`
	Name       string          `json:"name"`
	Brand      string          `json:"brand,omitempty"`
	Quantity   float64         `json:"quantity,omitempty"`
	Unit       string          `json:"unit,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Available  bool            `json:"available"`
	Unparsable bool            `json:"unparsable,omitempty"`
}
