package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/shelfwatch/pricematch/internal/model"
)

// referenceRow is the CSV import shape for reference products. Aliases
// are pipe-separated in a single column.
type referenceRow struct {
	ID          string `csv:"id"`
	DisplayName string `csv:"display_name"`
	Brand       string `csv:"brand,omitempty"`
	Aliases     string `csv:"aliases,omitempty"`
}

// ReadReferences loads a reference product import file.
func ReadReferences(ctx context.Context, source string) ([]model.ReferenceProduct, error) {
	rc, err := Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	csvReader := csv.NewReader(rc)
	csvReader.LazyQuotes = true

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", source)
	}

	seen := make(map[string]bool)
	var refs []model.ReferenceProduct
	for {
		var row referenceRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", source)
		}

		if row.ID == "" || row.DisplayName == "" {
			return nil, eris.Errorf("fetcher: reference row missing id or display_name in %s", source)
		}
		if seen[row.ID] {
			return nil, eris.Errorf("fetcher: duplicate reference id %s in %s", row.ID, source)
		}
		seen[row.ID] = true

		ref := model.ReferenceProduct{
			ID:          row.ID,
			DisplayName: row.DisplayName,
			Brand:       row.Brand,
		}
		for _, alias := range strings.Split(row.Aliases, "|") {
			ref.AddAlias(alias)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
