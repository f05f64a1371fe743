// Package reconcile folds resolved assignments into the price-comparison
// dataset: one row per reference product that drew at least one
// assignment, with explicit per-platform absence.
package reconcile

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
)

// Reconciler builds comparison rows from a run's assignments.
type Reconciler struct {
	refs map[string]model.ReferenceProduct
}

// New creates a Reconciler over the run's reference snapshot.
func New(refs []model.ReferenceProduct) *Reconciler {
	byID := make(map[string]model.ReferenceProduct, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}
	return &Reconciler{refs: byID}
}

// Rows produces the comparison dataset. hints carries, per reference and
// platform, the reason the best rejected candidate was turned away; it
// fills the unmatched_reason column when one side has no assignment.
// Rows are ordered by reference ID.
func (r *Reconciler) Rows(assignments []model.ResolvedAssignment, hints map[string]map[model.Platform]model.UnmatchedReason) ([]model.ComparisonRow, error) {
	type pair struct {
		a *model.ResolvedAssignment
		b *model.ResolvedAssignment
	}
	byRef := make(map[string]*pair)

	for i := range assignments {
		asg := &assignments[i]
		p, ok := byRef[asg.ReferenceID]
		if !ok {
			p = &pair{}
			byRef[asg.ReferenceID] = p
		}
		switch asg.Platform {
		case model.PlatformA:
			if p.a != nil {
				return nil, eris.Errorf("reconcile: two %s assignments for reference %s", asg.Platform, asg.ReferenceID)
			}
			p.a = asg
		case model.PlatformB:
			if p.b != nil {
				return nil, eris.Errorf("reconcile: two %s assignments for reference %s", asg.Platform, asg.ReferenceID)
			}
			p.b = asg
		default:
			return nil, eris.Errorf("reconcile: unknown platform %q on listing %s", asg.Platform, asg.ListingID)
		}
	}

	rows := make([]model.ComparisonRow, 0, len(byRef))
	for refID, p := range byRef {
		row := model.ComparisonRow{ReferenceID: refID}
		if ref, ok := r.refs[refID]; ok {
			row.DisplayName = ref.DisplayName
		} else {
			zap.L().Warn("assignment references unknown product", zap.String("reference_id", refID))
		}

		if p.a != nil {
			price := p.a.Price
			row.PricePlatformA = &price
			avail := p.a.Available
			row.AvailableA = &avail
		} else {
			row.UnmatchedReasonA = hintFor(hints, refID, model.PlatformA)
		}
		if p.b != nil {
			price := p.b.Price
			row.PricePlatformB = &price
			avail := p.b.Available
			row.AvailableB = &avail
		} else {
			row.UnmatchedReasonB = hintFor(hints, refID, model.PlatformB)
		}

		if p.a != nil && p.b != nil {
			delta, pct, cheaper := compare(p.a.Price, p.b.Price)
			row.Delta = &delta
			if pct != nil {
				row.PctDelta = pct
			}
			row.Cheaper = cheaper
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ReferenceID < rows[j].ReferenceID
	})
	return rows, nil
}

// compare computes delta = priceA - priceB, the delta as a fraction of
// the larger price, and which side is cheaper. Arithmetic stays in
// decimal; any rounding happens at report time.
func compare(priceA, priceB decimal.Decimal) (decimal.Decimal, *decimal.Decimal, model.Cheaper) {
	delta := priceA.Sub(priceB)

	var pct *decimal.Decimal
	if max := decimal.Max(priceA, priceB); max.IsPositive() {
		v := delta.Div(max)
		pct = &v
	}

	switch delta.Sign() {
	case -1:
		return delta, pct, model.CheaperA
	case 1:
		return delta, pct, model.CheaperB
	default:
		return delta, pct, model.CheaperTie
	}
}

func hintFor(hints map[string]map[model.Platform]model.UnmatchedReason, refID string, platform model.Platform) model.UnmatchedReason {
	if hints == nil {
		return ""
	}
	return hints[refID][platform]
}
