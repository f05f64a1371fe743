package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
)

// ReadListings loads one platform's catalog snapshot. The file's own
// platform column, when present, must agree with the requested platform.
// Rows missing an id or a raw name are skipped with a warning; they
// cannot be audited without an identity.
func ReadListings(ctx context.Context, source string, platform model.Platform) ([]model.RawListing, error) {
	if !platform.Valid() {
		return nil, eris.Errorf("fetcher: invalid platform %q", platform)
	}
	format, err := DetectFormat(source)
	if err != nil {
		return nil, err
	}

	var listings []model.RawListing
	switch format {
	case FormatCSV:
		rc, err := Open(ctx, source)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		listings, err = readCSVListings(rc)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", source)
		}
	case FormatXLSX:
		listings, err = readXLSXListings(ctx, source)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", source)
		}
	}

	out := make([]model.RawListing, 0, len(listings))
	skipped := 0
	for _, l := range listings {
		if l.ID == "" || l.RawName == "" {
			skipped++
			continue
		}
		if l.Platform == "" {
			l.Platform = platform
		}
		if l.Platform != platform {
			return nil, eris.Errorf("fetcher: listing %s declares platform %q, expected %q", l.ID, l.Platform, platform)
		}
		out = append(out, l)
	}
	if skipped > 0 {
		zap.L().Warn("skipped listings without id or name",
			zap.String("source", source),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func readCSVListings(r io.Reader) ([]model.RawListing, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return nil, eris.Wrap(err, "csv: decoder")
	}

	var listings []model.RawListing
	for {
		var l model.RawListing
		if err := dec.Decode(&l); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "csv: decode row")
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// xlsxColumns maps header names to RawListing fields. Header matching is
// case-insensitive.
func readXLSXListings(ctx context.Context, source string) ([]model.RawListing, error) {
	path, cleanup, err := localPath(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		header[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}
	for _, required := range []string{"id", "raw_name", "price", "currency"} {
		if _, ok := header[required]; !ok {
			return nil, eris.Errorf("xlsx: missing column %q", required)
		}
	}

	var listings []model.RawListing
	for _, row := range sheet.Rows[1:] {
		get := func(col string) string {
			i, ok := header[col]
			if !ok || i >= len(row.Cells) {
				return ""
			}
			return strings.TrimSpace(row.Cells[i].String())
		}

		l := model.RawListing{
			ID:        get("id"),
			Platform:  model.Platform(get("platform")),
			RawName:   get("raw_name"),
			BrandHint: get("brand_hint"),
			SizeHint:  get("size_hint"),
			Currency:  get("currency"),
			SourceURL: get("source_url"),
		}
		if l.ID == "" && l.RawName == "" {
			continue // blank row
		}

		price, err := decimal.NewFromString(get("price"))
		if err != nil {
			return nil, eris.Wrapf(err, "xlsx: price of listing %s", l.ID)
		}
		l.Price = price

		if v := get("available"); v != "" {
			avail, err := strconv.ParseBool(v)
			if err != nil {
				return nil, eris.Wrapf(err, "xlsx: available of listing %s", l.ID)
			}
			l.Available = avail
		}
		if v := get("scraped_at"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, eris.Wrapf(err, "xlsx: scraped_at of listing %s", l.ID)
			}
			l.ScrapedAt = ts
		}

		listings = append(listings, l)
	}
	return listings, nil
}

// localPath returns a filesystem path for the source, downloading remote
// sources to a temp file. cleanup removes the temp file when one was made.
func localPath(ctx context.Context, source string) (string, func(), error) {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ftp") {
		return source, func() {}, nil
	}

	rc, err := Open(ctx, source)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "pricematch-*.xlsx")
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: create temp file")
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, eris.Wrap(err, "fetcher: download to temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, eris.Wrap(err, "fetcher: close temp file")
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
