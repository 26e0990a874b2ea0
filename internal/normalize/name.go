package normalize

import (
	"regexp"
	"strings"
)

// specialNotation are the characters that mark a name as carrying pricing or
// parent-child annotations ("White Cap 30%:Whitecap Edmonton"). Tokens
// containing any of them pass through verbatim, and their presence disables
// "Last, First" inversion.
const specialNotation = "%:()"

// SuffixRule is one entry of the ordered business-suffix table. Pattern is
// matched against whole tokens of the uppercased name; identity entries
// (LLC -> LLC) exist so suffix detection works on already-normal input.
type SuffixRule struct {
	Pattern     string
	Replacement string
}

// SuffixTable normalizes business suffixes to a single spelling. Suffixes are
// never deleted: their presence is itself a matching signal downstream.
var SuffixTable = []SuffixRule{
	{"L.L.C.", "LLC"},
	{"L.L.C", "LLC"},
	{"LLC.", "LLC"},
	{"LLC", "LLC"},
	{"INCORPORATED", "INC"},
	{"INC.", "INC"},
	{"INC", "INC"},
	{"CORPORATION", "CORP"},
	{"CORP.", "CORP"},
	{"CORP", "CORP"},
	{"LIMITED", "LTD"},
	{"LTD.", "LTD"},
	{"LTD", "LTD"},
	{"L.L.P.", "LLP"},
	{"LLP.", "LLP"},
	{"LLP", "LLP"},
	{"L.P.", "LP"},
	{"LP.", "LP"},
	{"LP", "LP"},
	{"P.L.L.C.", "PLLC"},
	{"PLLC", "PLLC"},
	{"P.C.", "PC"},
	{"CO.", "CO"},
}

var suffixLookup = buildSuffixLookup()

func buildSuffixLookup() map[string]string {
	m := make(map[string]string, len(SuffixTable))
	for _, r := range SuffixTable {
		if _, ok := m[r.Pattern]; !ok {
			m[r.Pattern] = r.Replacement
		}
	}
	return m
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// NormalizeName canonicalizes a free-text customer or company name:
//  1. uppercase, collapse internal whitespace
//  2. detect special notation (%, :, parentheses)
//  3. without special notation, invert a "Last, First" comma form to
//     "First Last", re-appending any business-suffix tokens at the end
//  4. normalize business suffixes via SuffixTable (never delete)
//  5. tokens carrying special notation pass through unmodified
//
// Idempotent: re-normalizing an already-normalized name is a no-op.
// Empty input is returned unchanged.
func NormalizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return name
	}

	s := strings.ToUpper(strings.TrimSpace(FoldASCII(name)))
	s = multiSpaceRe.ReplaceAllString(s, " ")

	special := strings.ContainsAny(s, specialNotation)
	if !special && strings.Contains(s, ",") {
		s = invertCommaName(s)
	}

	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if strings.ContainsAny(tok, specialNotation) {
			continue
		}
		if rep, ok := suffixLookup[tok]; ok {
			tokens[i] = rep
		}
	}
	return strings.Join(tokens, " ")
}

// HasBusinessSuffix reports whether any token of the (already uppercased)
// name is a known business suffix.
func HasBusinessSuffix(name string) bool {
	for _, tok := range strings.Fields(name) {
		if _, ok := suffixLookup[tok]; ok {
			return true
		}
	}
	return false
}

// invertCommaName turns "PETERSON, CHRIS" into "CHRIS PETERSON". Business
// suffix tokens found on either side are pulled out, deduplicated, and
// re-appended after the inverted name so "SMITH LLC, JOHN" becomes
// "JOHN SMITH LLC".
func invertCommaName(s string) string {
	last, first, _ := strings.Cut(s, ",")

	var suffixes []string
	seen := make(map[string]struct{})
	keep := func(tokens []string) []string {
		out := tokens[:0]
		for _, tok := range tokens {
			if rep, ok := suffixLookup[tok]; ok {
				if _, dup := seen[rep]; !dup {
					seen[rep] = struct{}{}
					suffixes = append(suffixes, rep)
				}
				continue
			}
			out = append(out, tok)
		}
		return out
	}

	lastToks := keep(strings.Fields(last))
	firstToks := keep(strings.Fields(first))

	parts := make([]string, 0, len(firstToks)+len(lastToks)+len(suffixes))
	parts = append(parts, firstToks...)
	parts = append(parts, lastToks...)
	parts = append(parts, suffixes...)
	return strings.Join(parts, " ")
}
