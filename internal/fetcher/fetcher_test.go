package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/shelfwatch/pricematch/internal/model"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectFormat(t *testing.T) {
	f, err := DetectFormat("snapshots/platform_a.csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = DetectFormat("https://exports.example.com/catalog.XLSX?token=abc")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = DetectFormat("catalog.json")
	assert.Error(t, err)
}

const listingsCSV = `id,platform,raw_name,brand_hint,size_hint,price,currency,available,scraped_at,source_url
a1,platform_a,BrandX Vit C 1000mg 30s,BrandX,1000mg,120.50,THB,true,2026-08-01T09:00:00Z,https://shop.example/a1
a2,,Fish Oil 1000mg,,,89.00,THB,false,2026-08-01T09:00:00Z,
,platform_a,No ID Product,,,10.00,THB,true,2026-08-01T09:00:00Z,
`

func TestReadListingsCSV(t *testing.T) {
	path := writeTemp(t, "a.csv", listingsCSV)

	listings, err := ReadListings(context.Background(), path, model.PlatformA)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "a1", listings[0].ID)
	assert.Equal(t, model.PlatformA, listings[0].Platform)
	assert.Equal(t, "BrandX Vit C 1000mg 30s", listings[0].RawName)
	assert.Equal(t, "120.5", listings[0].Price.String())
	assert.True(t, listings[0].Available)

	// Blank platform column inherits the requested platform.
	assert.Equal(t, model.PlatformA, listings[1].Platform)
	assert.False(t, listings[1].Available)
}

func TestReadListingsPlatformMismatch(t *testing.T) {
	path := writeTemp(t, "a.csv", listingsCSV)

	_, err := ReadListings(context.Background(), path, model.PlatformB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform")
}

func TestReadListingsInvalidPlatform(t *testing.T) {
	_, err := ReadListings(context.Background(), "a.csv", model.Platform("platform_c"))
	assert.Error(t, err)
}

func TestReadListingsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("listings")
	require.NoError(t, err)

	addRow := func(cells ...string) {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	addRow("id", "platform", "raw_name", "brand_hint", "size_hint", "price", "currency", "available", "scraped_at")
	addRow("b1", "platform_b", "Vitamin C 1000 mg 30 tablets", "", "", "99.90", "THB", "true", "2026-08-01T10:00:00Z")
	addRow("b2", "", "Collagen Powder 200g", "BrandY", "200g", "450.00", "THB", "false", "")
	require.NoError(t, f.Save(path))

	listings, err := ReadListings(context.Background(), path, model.PlatformB)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "b1", listings[0].ID)
	assert.Equal(t, "99.9", listings[0].Price.String())
	assert.True(t, listings[0].Available)
	assert.Equal(t, model.PlatformB, listings[1].Platform)
	assert.Equal(t, "BrandY", listings[1].BrandHint)
}

func TestReadListingsXLSXMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("listings")
	require.NoError(t, err)
	row := sheet.AddRow()
	for _, c := range []string{"id", "raw_name"} {
		row.AddCell().SetString(c)
	}
	require.NoError(t, f.Save(path))

	_, err = ReadListings(context.Background(), path, model.PlatformA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

const referencesCSV = `id,display_name,brand,aliases
ref-1,Vitamin C 1000mg 30 tablets,brandx,vit c 1000mg|vitamin c 30s
ref-2,Fish Oil 1000mg 60 softgels,,
`

func TestReadReferences(t *testing.T) {
	path := writeTemp(t, "refs.csv", referencesCSV)

	refs, err := ReadReferences(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "ref-1", refs[0].ID)
	assert.Equal(t, []string{"vit c 1000mg", "vitamin c 30s"}, refs[0].Aliases)
	assert.Empty(t, refs[1].Aliases)
}

func TestReadReferencesDuplicateID(t *testing.T) {
	path := writeTemp(t, "refs.csv", `id,display_name,brand,aliases
ref-1,Vitamin C,,
ref-1,Vitamin C again,,
`)

	_, err := ReadReferences(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate reference id")
}

func TestHTTPFetcherOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pricematch/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(listingsCSV))
	}))
	defer srv.Close()

	listings, err := ReadListings(context.Background(), srv.URL+"/snapshot.csv", model.PlatformA)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestHTTPFetcherOpenPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := ReadListings(context.Background(), srv.URL+"/missing.csv", model.PlatformA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
