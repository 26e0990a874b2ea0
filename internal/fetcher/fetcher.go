// Package fetcher acquires import source files over HTTP and FTP and parses
// the header-first CSV and XLSX exports they contain into rows.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads one remote source file.
type Fetcher interface {
	// Download returns the body of the file at url. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile stages the file at url into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
