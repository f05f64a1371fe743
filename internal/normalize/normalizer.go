// Package normalize canonicalizes raw scraped listings into uniform
// records for matching. Output is one-to-one and order-preserving with
// the input; records that cannot be parsed are retained with an explicit
// unparsable flag so downstream counts reconcile with input counts.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/shelfwatch/pricematch/internal/model"
)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// Normalizer cleans product names and extracts brand and quantity.
type Normalizer struct {
	rules       Rules
	quantityRe  *regexp.Regexp
	stopPhrases []string
	brandSet    map[string]bool
}

// New creates a Normalizer from the given rules.
func New(rules Rules) *Normalizer {
	units := make([]string, 0, len(rules.Units))
	for _, u := range rules.Units {
		units = append(units, regexp.QuoteMeta(strings.ToLower(u)))
	}
	// Trailing "<number><unit>" token, e.g. "1000mg", "30 s", "2x".
	quantityRe := regexp.MustCompile(
		`(?i)\b(\d+(?:[.,]\d+)?)\s*(` + strings.Join(units, "|") + `)\b\.?`)

	brandSet := make(map[string]bool, len(rules.Brands))
	for _, b := range rules.Brands {
		brandSet[strings.ToLower(strings.TrimSpace(b))] = true
	}

	stop := make([]string, 0, len(rules.StopPhrases))
	for _, p := range rules.StopPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			stop = append(stop, p)
		}
	}

	return &Normalizer{
		rules:       rules,
		quantityRe:  quantityRe,
		stopPhrases: stop,
		brandSet:    brandSet,
	}
}

// Normalize derives a NormalizedRecord from one RawListing. It never
// fails: multilingual input passes through unchanged apart from Unicode
// compatibility folding, and an empty result is flagged, not dropped.
func (n *Normalizer) Normalize(listing model.RawListing) model.NormalizedRecord {
	rec := model.NormalizedRecord{
		ListingID: listing.ID,
		Platform:  listing.Platform,
		Price:     listing.Price,
		Currency:  listing.Currency,
		Available: listing.Available,
	}

	name := CleanName(listing.RawName)

	for _, phrase := range n.stopPhrases {
		name = strings.ReplaceAll(name, phrase, " ")
	}

	// Quantity from the size hint first, then from the name. A quantity
	// found in the name is also stripped from it.
	if qty, unit, ok := n.extractQuantity(CleanName(listing.SizeHint)); ok {
		rec.Quantity, rec.Unit = qty, unit
	}
	if m := n.quantityRe.FindString(name); m != "" {
		if rec.Unit == "" {
			if qty, unit, ok := n.extractQuantity(m); ok {
				rec.Quantity, rec.Unit = qty, unit
			}
		}
		// All size tokens leave the name so "1000mg 30s" and "1000 mg"
		// variants compare on the product words alone.
		name = n.quantityRe.ReplaceAllString(name, " ")
	}

	name = strings.TrimSpace(multiSpace.ReplaceAllString(name, " "))
	rec.Name = name

	if name == "" {
		rec.Unparsable = true
		return rec
	}

	rec.Brand = n.resolveBrand(listing.BrandHint, name)
	return rec
}

// NormalizeAll maps listings to records one-to-one, preserving order.
func (n *Normalizer) NormalizeAll(listings []model.RawListing) []model.NormalizedRecord {
	records := make([]model.NormalizedRecord, len(listings))
	for i, l := range listings {
		records[i] = n.Normalize(l)
	}
	return records
}

func (n *Normalizer) extractQuantity(s string) (float64, string, bool) {
	m := n.quantityRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	qty, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, "", false
	}
	return qty, strings.ToLower(m[2]), true
}

// resolveBrand prefers the scraped brand hint and falls back to the first
// brand-lexicon entry appearing as a token in the name. Unresolvable
// brands stay empty; the matcher's brand gate only fires when both sides
// resolve.
func (n *Normalizer) resolveBrand(hint, name string) string {
	if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" {
		return hint
	}
	if len(n.brandSet) == 0 {
		return ""
	}
	for _, tok := range strings.Fields(name) {
		if n.brandSet[tok] {
			return tok
		}
	}
	return ""
}

// CleanName lowercases, folds to Unicode NFKC, replaces punctuation with
// spaces, and collapses whitespace. Script-specific characters (Thai,
// CJK, accented Latin) pass through unchanged.
func CleanName(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case (r == '.' || r == ',') && betweenDigits(runes, i):
			// Decimal separator inside a number ("1.5g", "1,5g") survives.
			b.WriteRune('.')
		default:
			// Punctuation splits tokens: "vitamin-c" and "vitamin c"
			// normalize identically.
			b.WriteRune(' ')
		}
	}

	return strings.TrimSpace(multiSpace.ReplaceAllString(b.String(), " "))
}

func betweenDigits(runes []rune, i int) bool {
	return i > 0 && i+1 < len(runes) &&
		unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}
