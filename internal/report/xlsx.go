// Package report writes run outputs for humans: the XLSX comparison
// workbook and the CSV audit file.
package report

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
)

// comparisonHeader is the fixed column order of the comparison sheet.
var comparisonHeader = []string{
	"reference_id",
	"display_name",
	"price_platform_a",
	"price_platform_b",
	"delta",
	"pct_delta",
	"cheaper",
	"unmatched_reason_a",
	"unmatched_reason_b",
}

// XLSXOptions configures the comparison workbook.
type XLSXOptions struct {
	// PctDeltaScale is the number of decimal places pct_delta is rounded
	// to in the sheet. Stored values keep full precision; rounding
	// happens only at this boundary.
	PctDeltaScale int32
}

// WriteComparison writes the comparison rows to an XLSX workbook at path.
func WriteComparison(path string, rows []model.ComparisonRow, opts XLSXOptions) error {
	if opts.PctDeltaScale <= 0 {
		opts.PctDeltaScale = 2
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("comparison")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	headerRow := sheet.AddRow()
	for _, h := range comparisonHeader {
		headerRow.AddCell().SetString(h)
	}

	for _, row := range rows {
		r := sheet.AddRow()
		r.AddCell().SetString(row.ReferenceID)
		r.AddCell().SetString(row.DisplayName)
		setPrice(r, row.PricePlatformA)
		setPrice(r, row.PricePlatformB)
		setPrice(r, row.Delta)
		setPct(r, row.PctDelta, opts.PctDeltaScale)
		r.AddCell().SetString(string(row.Cheaper))
		r.AddCell().SetString(string(row.UnmatchedReasonA))
		r.AddCell().SetString(string(row.UnmatchedReasonB))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	zap.L().Info("comparison report written",
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func setPrice(r *xlsx.Row, d *decimal.Decimal) {
	if d == nil {
		r.AddCell() // blank, not zero
		return
	}
	r.AddCell().SetString(d.String())
}

func setPct(r *xlsx.Row, d *decimal.Decimal, scale int32) {
	if d == nil {
		r.AddCell()
		return
	}
	r.AddCell().SetString(d.Round(scale).String())
}
