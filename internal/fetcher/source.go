package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asphaltanchors/importer/internal/model"
)

// Format identifies how a source file is parsed.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SourceSpec describes one input file: a local path, an http(s) URL, or an
// ftp URL, containing header-first tabular data.
type SourceSpec struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Format Format `yaml:"format,omitempty"`
	Sheet  string `yaml:"sheet,omitempty"` // xlsx only
}

// resolveFormat picks the parser from the source entry or the file extension.
// ZIP archives are unwrapped first, so the inner name decides.
func resolveFormat(spec SourceSpec, path string) (Format, error) {
	if spec.Format != FormatAuto {
		return spec.Format, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return FormatAuto, eris.Errorf("source %s: cannot infer format of %q", spec.Name, filepath.Base(path))
}

// Loader turns source specs into header-mapped rows. Remote files are staged
// in tempDir before parsing.
type Loader struct {
	http    Fetcher
	ftp     Fetcher
	tempDir string
}

// NewLoader creates a Loader. Either fetcher may be nil when the scheme is
// never used.
func NewLoader(httpFetcher, ftpFetcher Fetcher, tempDir string) *Loader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Loader{http: httpFetcher, ftp: ftpFetcher, tempDir: tempDir}
}

// Load acquires and parses one source into rows keyed by header name.
func (l *Loader) Load(ctx context.Context, spec SourceSpec) ([]model.Row, error) {
	path, cleanup, err := l.stage(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		inner, err := ExtractZIPSingle(path, l.tempDir)
		if err != nil {
			return nil, eris.Wrapf(err, "source %s", spec.Name)
		}
		defer os.Remove(inner) //nolint:errcheck
		path = inner
	}

	format, err := resolveFormat(spec, path)
	if err != nil {
		return nil, err
	}

	var rows []model.Row
	switch format {
	case FormatCSV:
		rows, err = l.loadCSV(spec, path)
	case FormatXLSX:
		rows, err = ParseXLSX(path, spec.Sheet)
	default:
		err = eris.Errorf("source %s: unsupported format %q", spec.Name, format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source %s", spec.Name)
	}

	zap.L().Info("source loaded",
		zap.String("source", spec.Name),
		zap.String("format", string(format)),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// LoadAll loads every spec concurrently and returns rows keyed by source name.
func (l *Loader) LoadAll(ctx context.Context, specs []SourceSpec) (map[string][]model.Row, error) {
	var mu sync.Mutex
	out := make(map[string][]model.Row, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, spec := range specs {
		g.Go(func() error {
			rows, err := l.Load(gctx, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			out[spec.Name] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// stage makes spec.URL available as a local file. The cleanup func removes
// any temp file it created.
func (l *Loader) stage(ctx context.Context, spec SourceSpec) (string, func(), error) {
	noop := func() {}
	switch {
	case strings.HasPrefix(spec.URL, "http://"), strings.HasPrefix(spec.URL, "https://"):
		if l.http == nil {
			return "", noop, eris.Errorf("source %s: no http fetcher configured", spec.Name)
		}
		return l.download(ctx, spec, l.http)
	case strings.HasPrefix(spec.URL, "ftp://"):
		if l.ftp == nil {
			return "", noop, eris.Errorf("source %s: no ftp fetcher configured", spec.Name)
		}
		return l.download(ctx, spec, l.ftp)
	default:
		if _, err := os.Stat(spec.URL); err != nil {
			return "", noop, eris.Wrapf(err, "source %s: stat %s", spec.Name, spec.URL)
		}
		return spec.URL, noop, nil
	}
}

func (l *Loader) download(ctx context.Context, spec SourceSpec, f Fetcher) (string, func(), error) {
	path := filepath.Join(l.tempDir, "import-"+spec.Name+filepath.Ext(spec.URL))
	n, err := f.DownloadToFile(ctx, spec.URL, path)
	if err != nil {
		return "", func() {}, eris.Wrapf(err, "source %s: download", spec.Name)
	}
	zap.L().Debug("source downloaded",
		zap.String("source", spec.Name),
		zap.Int64("bytes", n),
	)
	return path, func() { os.Remove(path) }, nil //nolint:errcheck
}

func (l *Loader) loadCSV(spec SourceSpec, path string) ([]model.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: open", spec.Name)
	}
	defer f.Close() //nolint:errcheck
	return ParseCSV(f)
}
