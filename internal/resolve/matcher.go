// Package resolve decides whether an input record names an existing canonical
// customer, via a layered confidence-scored matching cascade.
package resolve

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/normalize"
	"github.com/asphaltanchors/importer/internal/store"
)

// Base confidences per cascade step. Confidence ranks candidates and labels
// decisions; it is never an accept/reject threshold.
const (
	ConfExternalID  = 1.0
	ConfExactName   = 0.95
	ConfNormalized  = 0.8
	ConfSpecialCase = 0.75
	ConfAcronym     = 0.5
)

// SpecialCase maps a known alias to a canonical customer name. City, when
// set, disambiguates multi-branch customers that share an alias.
type SpecialCase struct {
	Alias     string `yaml:"alias" mapstructure:"alias"`
	City      string `yaml:"city,omitempty" mapstructure:"city"`
	Canonical string `yaml:"canonical" mapstructure:"canonical"`
}

// MatchRules holds the tunable constants of the cascade. The defaults are
// heuristic values carried for behavioral parity with historical imports.
type MatchRules struct {
	SpecialCases []SpecialCase `yaml:"special_cases" mapstructure:"special_cases"`

	// AcronymMaxShared is the most stored entities that may share an acronym
	// before an acronym lookup is treated as ambiguous (no match, not error).
	AcronymMaxShared int `yaml:"acronym_max_shared" mapstructure:"acronym_max_shared"`
	// LengthBonusPerChar and LengthBonusCap shape the tie-break bonus that
	// favors more specific (longer) stored names within one cascade step.
	LengthBonusPerChar float64 `yaml:"length_bonus_per_char" mapstructure:"length_bonus_per_char"`
	LengthBonusCap     float64 `yaml:"length_bonus_cap" mapstructure:"length_bonus_cap"`
}

// DefaultMatchRules returns the production defaults.
func DefaultMatchRules() MatchRules {
	return MatchRules{
		AcronymMaxShared:   2,
		LengthBonusPerChar: 0.001,
		LengthBonusCap:     0.09,
	}
}

func (r MatchRules) withDefaults() MatchRules {
	d := DefaultMatchRules()
	if r.AcronymMaxShared == 0 {
		r.AcronymMaxShared = d.AcronymMaxShared
	}
	if r.LengthBonusPerChar == 0 {
		r.LengthBonusPerChar = d.LengthBonusPerChar
	}
	if r.LengthBonusCap == 0 {
		r.LengthBonusCap = d.LengthBonusCap
	}
	return r
}

// MatchInput is one record to resolve.
type MatchInput struct {
	Name       string
	ExternalID string
	City       string // used only by special-case disambiguation
	CompanyKey string // gates the name-layer steps against cross-company merges
}

// Matcher resolves records against the live entity store. Its in-memory
// indexes are private to one processor run; Observe keeps them current as the
// run creates customers, so rows inside one batch see each other's effects
// before the batch commits.
type Matcher struct {
	store store.Store
	rules MatchRules

	byExternalID map[string]*model.Customer
	byExactName  map[string]*model.Customer
	byNormalized map[string][]*model.Customer // first-seen order per key
	byAcronym    map[string][]*model.Customer
}

// NewMatcher builds a matcher and seeds its indexes from the store.
func NewMatcher(ctx context.Context, s store.Store, rules MatchRules) (*Matcher, error) {
	m := &Matcher{
		store:        s,
		rules:        rules.withDefaults(),
		byExternalID: make(map[string]*model.Customer),
		byExactName:  make(map[string]*model.Customer),
		byNormalized: make(map[string][]*model.Customer),
		byAcronym:    make(map[string][]*model.Customer),
	}

	existing, err := s.ListCustomers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: seed matcher indexes")
	}
	for i := range existing {
		m.Observe(&existing[i])
	}
	return m, nil
}

// Observe indexes a customer. Called for every pre-existing customer at
// construction and for every customer the run creates.
func (m *Matcher) Observe(c *model.Customer) {
	if c.ExternalID != "" {
		if _, ok := m.byExternalID[c.ExternalID]; !ok {
			m.byExternalID[c.ExternalID] = c
		}
	}

	lower := strings.ToLower(c.CanonicalName)
	if _, ok := m.byExactName[lower]; !ok {
		m.byExactName[lower] = c
	}

	norm := normalize.NormalizeName(c.CanonicalName)
	m.byNormalized[norm] = append(m.byNormalized[norm], c)

	if acr := Acronym(c.CanonicalName); acr != "" {
		m.byAcronym[acr] = append(m.byAcronym[acr], c)
	}
}

// Match runs the cascade and returns the first hit. The step order is
// load-bearing: external ids outrank any name evidence, near-exact name
// matches outrank fuzzy ones, and the fuzzy steps run last so reordering
// cannot silently merge records into the wrong company.
func (m *Matcher) Match(ctx context.Context, in MatchInput) (model.MatchDecision, error) {
	// Step 1: external id.
	if in.ExternalID != "" {
		if c, err := m.customerByExternalID(ctx, in.ExternalID); err != nil {
			return model.MatchDecision{Type: model.MatchNone}, err
		} else if c != nil {
			return decision(model.MatchExact, ConfExternalID, c), nil
		}
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.MatchDecision{Type: model.MatchNone}, nil
	}

	// Step 2: case-insensitive exact canonical name. Near-exact, not fuzzy.
	if c, err := m.customerByName(ctx, name); err != nil {
		return model.MatchDecision{Type: model.MatchNone}, err
	} else if c != nil && companyAgrees(in, c) {
		return decision(model.MatchExact, ConfExactName, c), nil
	}

	norm := normalize.NormalizeName(name)

	// Step 3: normalized-name equivalence.
	if c := m.pickBest(filterByCompany(in, m.byNormalized[norm])); c != nil {
		return decision(model.MatchNormalized, ConfNormalized, c), nil
	}

	// Step 4: special-case alias table.
	if c, err := m.matchSpecialCase(ctx, in, norm); err != nil {
		return model.MatchDecision{Type: model.MatchNone}, err
	} else if c != nil && companyAgrees(in, c) {
		return decision(model.MatchSpecialCase, ConfSpecialCase, c), nil
	}

	// Step 5: acronym.
	if c := m.matchAcronym(in, norm); c != nil {
		return decision(model.MatchAcronym, ConfAcronym, c), nil
	}

	return model.MatchDecision{Type: model.MatchNone}, nil
}

func decision(t model.MatchType, conf float64, c *model.Customer) model.MatchDecision {
	zap.L().Debug("matcher decision",
		zap.String("type", string(t)),
		zap.Float64("confidence", conf),
		zap.String("customer_id", c.ID),
	)
	return model.MatchDecision{Type: t, Confidence: conf, Customer: c}
}

func (m *Matcher) customerByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	if c, ok := m.byExternalID[externalID]; ok {
		return c, nil
	}
	c, err := m.store.CustomerByExternalID(ctx, externalID)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: lookup by external id")
	}
	return c, nil
}

func (m *Matcher) customerByName(ctx context.Context, name string) (*model.Customer, error) {
	if c, ok := m.byExactName[strings.ToLower(name)]; ok {
		return c, nil
	}
	c, err := m.store.CustomerByName(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: lookup by name")
	}
	return c, nil
}

func (m *Matcher) matchSpecialCase(ctx context.Context, in MatchInput, norm string) (*model.Customer, error) {
	for _, sc := range m.rules.SpecialCases {
		if normalize.NormalizeName(sc.Alias) != norm {
			continue
		}
		if sc.City != "" && !strings.EqualFold(sc.City, in.City) {
			continue
		}
		canonical := normalize.NormalizeName(sc.Canonical)
		if c, ok := m.byExactName[strings.ToLower(canonical)]; ok {
			return c, nil
		}
		if c := m.pickBest(filterByCompany(in, m.byNormalized[canonical])); c != nil {
			return c, nil
		}
		c, err := m.store.CustomerByName(ctx, canonical)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: special case lookup")
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func (m *Matcher) matchAcronym(in MatchInput, norm string) *model.Customer {
	if looksLikePersonalName(norm) {
		return nil
	}
	key := Acronym(norm)
	if key == "" {
		return nil
	}
	candidates := filterByCompany(in, m.byAcronym[key])
	// More sharers than the threshold is ambiguity: treated as no match
	// rather than an error, to avoid false merges.
	if len(candidates) == 0 || len(candidates) > m.rules.AcronymMaxShared {
		return nil
	}
	return m.pickBest(candidates)
}

// companyAgrees gates every name-layer step: a stored customer with a
// conflicting company key must not absorb the row no matter how well the
// names line up. A missing key on either side is not a conflict.
func companyAgrees(in MatchInput, c *model.Customer) bool {
	return in.CompanyKey == "" || c.CompanyKey == "" ||
		strings.EqualFold(in.CompanyKey, c.CompanyKey)
}

func filterByCompany(in MatchInput, candidates []*model.Customer) []*model.Customer {
	if in.CompanyKey == "" {
		return candidates
	}
	var out []*model.Customer
	for _, c := range candidates {
		if companyAgrees(in, c) {
			out = append(out, c)
		}
	}
	return out
}

// pickBest scores tied candidates within one step: a bonus proportional to
// normalized-name length favors the more specific stored entity, and
// first-seen order breaks exact ties deterministically.
func (m *Matcher) pickBest(candidates []*model.Customer) *model.Customer {
	var best *model.Customer
	var bestBonus float64
	for _, c := range candidates {
		bonus := m.lengthBonus(normalize.NormalizeName(c.CanonicalName))
		if best == nil || bonus > bestBonus {
			best = c
			bestBonus = bonus
		}
	}
	return best
}

func (m *Matcher) lengthBonus(norm string) float64 {
	bonus := float64(len(norm)) * m.rules.LengthBonusPerChar
	if bonus > m.rules.LengthBonusCap {
		bonus = m.rules.LengthBonusCap
	}
	return bonus
}

var (
	// firstLastRe matches "CHRIS PETERSON"; lastFirstInitialRe matches
	// "PETERSON, C." — the two personal-name shapes that must never
	// acronym-match a business entity.
	firstLastRe        = regexp.MustCompile(`^[A-Z][A-Z'-]* [A-Z][A-Z'-]*$`)
	lastFirstInitialRe = regexp.MustCompile(`^[A-Z][A-Z'-]*, [A-Z]\.?$`)
)

func looksLikePersonalName(norm string) bool {
	return firstLastRe.MatchString(norm) || lastFirstInitialRe.MatchString(norm)
}

// Acronym derives the lookup key for the acronym step: the leading letters
// of a multi-token name, or a single all-letter token used as-is. Keys
// shorter than 3 characters are rejected as too ambiguous.
func Acronym(name string) string {
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) == 1 {
		tok := tokens[0]
		if len(tok) >= 3 && isUpperAlpha(tok) {
			return tok
		}
		return ""
	}
	var b strings.Builder
	for _, tok := range tokens {
		c := tok[0]
		if c >= 'A' && c <= 'Z' {
			b.WriteByte(c)
		}
	}
	if b.Len() < 3 {
		return ""
	}
	return b.String()
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
