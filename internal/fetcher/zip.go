package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ExtractZIPSingle unwraps an archive carrying exactly one data file, the
// shape nightly export drops arrive in, and writes it flat into destDir.
// Returns the extracted file's path.
func ExtractZIPSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var entry *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if entry != nil {
			return "", eris.Errorf("zip: archive holds more than one file (%s, %s)", entry.Name, f.Name)
		}
		entry = f
	}
	if entry == nil {
		return "", eris.New("zip: archive holds no files")
	}

	// Flatten to the base name: entry paths are untrusted.
	name := filepath.Base(entry.Name)
	if name == "." || name == ".." || name == string(os.PathSeparator) {
		return "", eris.Errorf("zip: unusable entry name %q", entry.Name)
	}
	dest := filepath.Join(destDir, name)

	in, err := entry.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}
	return dest, nil
}
