// Package address canonicalizes postal addresses and deduplicates them by
// content hash: byte-identical normalized content always collapses to one
// stored row.
package address

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/normalize"
	"github.com/asphaltanchors/importer/internal/store"
)

// HashLen is the number of hex characters of the content hash used as the
// stored identity.
const HashLen = 32

// Fields is the fixed address field set covered by the content hash.
type Fields struct {
	Line1      string
	Line2      string
	Line3      string
	City       string
	State      string
	PostalCode string
	Country    string
}

var addressSpaceRe = regexp.MustCompile(`\s+`)

// cleanField normalizes one raw value: trim, collapse whitespace, strip
// diacritics. Blank values become empty strings, never errors.
func cleanField(s string) string {
	s = strings.TrimSpace(normalize.FoldASCII(s))
	return addressSpaceRe.ReplaceAllString(s, " ")
}

// Clean returns a copy of f with every field normalized.
func (f Fields) Clean() Fields {
	return Fields{
		Line1:      cleanField(f.Line1),
		Line2:      cleanField(f.Line2),
		Line3:      cleanField(f.Line3),
		City:       cleanField(f.City),
		State:      cleanField(f.State),
		PostalCode: cleanField(f.PostalCode),
		Country:    cleanField(f.Country),
	}
}

// Empty reports whether every cleaned field is blank, meaning the address is
// absent rather than invalid.
func (f Fields) Empty() bool {
	c := f.Clean()
	return c.Line1 == "" && c.Line2 == "" && c.Line3 == "" &&
		c.City == "" && c.State == "" && c.PostalCode == "" && c.Country == ""
}

// Hash computes the full content hash of the cleaned fields. Serialization is
// stably key-ordered, so the hash is insensitive to the order callers filled
// the struct in but sensitive to any value difference.
func Hash(f Fields) string {
	c := f.Clean()
	var b strings.Builder
	for _, kv := range []struct{ k, v string }{
		{"city", c.City},
		{"country", c.Country},
		{"line1", c.Line1},
		{"line2", c.Line2},
		{"line3", c.Line3},
		{"postal_code", c.PostalCode},
		{"state", c.State},
	} {
		b.WriteString(kv.k)
		b.WriteByte('=')
		b.WriteString(kv.v)
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Deduplicator resolves address field groups to content-addressed identities.
// Its cache is private to one processor run and never shared.
type Deduplicator struct {
	store      store.Store
	cache      map[string]string // full hash -> stored identity
	duplicates int
}

// NewDeduplicator creates a deduplicator reading existing rows from s.
func NewDeduplicator(s store.Store) *Deduplicator {
	return &Deduplicator{
		store: s,
		cache: make(map[string]string),
	}
}

// Duplicates reports how many resolutions hit an existing address.
func (d *Deduplicator) Duplicates() int { return d.duplicates }

// Resolve canonicalizes the fields and returns their stored identity,
// inserting a new address row via tx when the content has not been seen.
// An all-empty field group yields ("", false, nil): absent, not an error.
// Lookup order: in-process cache by full hash, then store by truncated hash.
func (d *Deduplicator) Resolve(ctx context.Context, tx store.Tx, f Fields) (string, bool, error) {
	if f.Empty() {
		return "", false, nil
	}

	full := Hash(f)
	id := full[:HashLen]

	if _, ok := d.cache[full]; ok {
		d.duplicates++
		return id, false, nil
	}

	existing, err := d.store.AddressByHash(ctx, id)
	if err != nil {
		return "", false, eris.Wrap(err, "address: lookup by hash")
	}
	if existing != nil {
		d.cache[full] = id
		d.duplicates++
		return id, false, nil
	}

	c := f.Clean()
	if err := tx.InsertAddress(ctx, &model.Address{
		ContentHash: id,
		Line1:       c.Line1,
		Line2:       c.Line2,
		Line3:       c.Line3,
		City:        c.City,
		State:       c.State,
		PostalCode:  c.PostalCode,
		Country:     c.Country,
	}); err != nil {
		return "", false, eris.Wrap(err, "address: insert")
	}
	d.cache[full] = id

	zap.L().Debug("address created",
		zap.String("hash", id),
		zap.String("city", c.City),
	)
	return id, true, nil
}
