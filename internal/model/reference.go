package model

import (
	"strings"
	"time"
)

// ReferenceProduct is a canonical product identity: one row per physical
// product the business tracks. Aliases accumulate monotonically as new
// confirmed matches are observed and are never removed automatically.
type ReferenceProduct struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Brand       string    `json:"brand,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasAlias reports whether name is already a known alias (or the display
// name itself). Comparison is case-insensitive.
func (r *ReferenceProduct) HasAlias(name string) bool {
	if strings.EqualFold(r.DisplayName, name) {
		return true
	}
	for _, a := range r.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// AddAlias appends name to the alias set. Adding an existing alias is a
// no-op, which keeps alias learning idempotent. Returns true if the alias
// was newly added.
func (r *ReferenceProduct) AddAlias(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || r.HasAlias(name) {
		return false
	}
	r.Aliases = append(r.Aliases, name)
	return true
}

// MatchTexts returns the display name followed by all aliases: every text
// a record may be scored against. A reference's score is the maximum
// similarity across these.
func (r *ReferenceProduct) MatchTexts() []string {
	texts := make([]string, 0, len(r.Aliases)+1)
	texts = append(texts, r.DisplayName)
	texts = append(texts, r.Aliases...)
	return texts
}
