package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/shelfwatch/pricematch/internal/model"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestWriteComparison(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comparison.xlsx")

	rows := []model.ComparisonRow{
		{
			ReferenceID:    "ref-1",
			DisplayName:    "Vitamin C 1000mg 30 tablets",
			PricePlatformA: dec("120.50"),
			PricePlatformB: dec("99.90"),
			Delta:          dec("20.60"),
			PctDelta:       dec("0.1709543568464730"),
			Cheaper:        model.CheaperB,
		},
		{
			ReferenceID:      "ref-2",
			DisplayName:      "Fish Oil 1000mg 60 softgels",
			PricePlatformA:   dec("89.00"),
			UnmatchedReasonB: model.ReasonBelowThreshold,
		},
	}
	require.NoError(t, WriteComparison(path, rows, XLSXOptions{}))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 3)

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		header[i] = c.String()
	}
	assert.Equal(t, comparisonHeader, header)

	first := sheet.Rows[1].Cells
	assert.Equal(t, "ref-1", first[0].String())
	assert.Equal(t, "120.5", first[2].String())
	assert.Equal(t, "20.6", first[4].String())
	// pct_delta rounded to 2 dp at the report boundary only.
	assert.Equal(t, "0.17", first[5].String())
	assert.Equal(t, "platform_b", first[6].String())

	second := sheet.Rows[2].Cells
	assert.Equal(t, "ref-2", second[0].String())
	assert.Equal(t, "", second[3].String())
	assert.Equal(t, "", second[4].String())
	assert.Equal(t, "below_threshold", second[8].String())
}

func TestWriteAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")

	records := []model.AuditRecord{
		{
			ListingID: "a7",
			Platform:  model.PlatformA,
			Name:      "vit c chewable",
			Outcome:   model.OutcomeDuplicateSuppressed,
			ReferenceID: "ref-1",
			Score:       0.91,
		},
		{
			ListingID: "b3",
			Platform:  model.PlatformB,
			Name:      "mystery gadget",
			Outcome:   model.OutcomeUnmatched,
			Reason:    model.ReasonNoCandidates,
		},
	}
	require.NoError(t, WriteAudit(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	parsed, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.Contains(t, parsed[0], "listing_id")
	assert.Equal(t, "a7", parsed[1][0])
	assert.Equal(t, "duplicate_suppressed", parsed[1][3])
	assert.Equal(t, "no_candidates", parsed[2][4])
}
