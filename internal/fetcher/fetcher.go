// Package fetcher loads catalog snapshots and reference imports from
// local files, HTTP, and FTP sources, in CSV or XLSX form.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher opens a source and returns its contents as a stream.
type Fetcher interface {
	Open(ctx context.Context, source string) (io.ReadCloser, error)
}

// Format identifies a snapshot file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat infers the file format from the source path or URL.
func DetectFormat(source string) (Format, error) {
	s := strings.ToLower(source)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".csv"):
		return FormatCSV, nil
	case strings.HasSuffix(s, ".xlsx"):
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("fetcher: cannot infer format of %q (want .csv or .xlsx)", source)
	}
}

// Open dispatches on the source scheme: http(s) and ftp URLs are
// downloaded, everything else is treated as a local path.
func Open(ctx context.Context, source string) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return NewHTTPFetcher(HTTPOptions{}).Open(ctx, source)
		case "ftp":
			return NewFTPFetcher(FTPOptions{}).Open(ctx, source)
		}
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", source)
	}
	return f, nil
}
