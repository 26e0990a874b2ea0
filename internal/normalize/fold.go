// Package normalize provides the pure normalization functions the import
// pipeline applies to raw domains, names, and address fields before matching.
package normalize

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold decomposes accented characters and strips combining marks so
// "Café" and "Cafe" normalize identically. Suffix handling itself stays
// ASCII-only; this only keeps accented input from defeating exact matches.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldASCII removes diacritical marks from s. On transform failure the input
// is returned as-is.
func FoldASCII(s string) string {
	out, _, err := transform.String(asciiFold, s)
	if err != nil {
		return s
	}
	return out
}
