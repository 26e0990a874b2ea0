package normalize

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// SkipSentinel is returned for the configured marketplace domain whose
// transactional emails must never be consolidated into a company.
const SkipSentinel = "__skip__"

// IndividualPrefix marks keys for personal webmail accounts. Prefixing keeps
// every gmail.com customer from merging into one "gmail" company.
const IndividualPrefix = "individual:"

// protectedSuffixes are public-sector TLDs that pass through unchanged:
// city.denver.co.gov and water.denver.co.gov are distinct agencies, not
// subdomains of one business.
var protectedSuffixes = []string{".gov", ".mil", ".edu"}

// ConsolidationRule maps any domain containing Match to a fixed canonical
// domain, for businesses that email from several vanity domains.
type ConsolidationRule struct {
	Match     string `yaml:"match" mapstructure:"match"`
	Canonical string `yaml:"canonical" mapstructure:"canonical"`
}

// DomainRules is the external configuration for domain normalization,
// loaded once at construction.
type DomainRules struct {
	MarketplaceSkip   string              `yaml:"marketplace_skip" mapstructure:"marketplace_skip"`
	IndividualDomains []string            `yaml:"individual_domains" mapstructure:"individual_domains"`
	Consolidations    []ConsolidationRule `yaml:"consolidations" mapstructure:"consolidations"`
}

// DomainNormalizer maps a raw email domain to a canonical company key.
type DomainNormalizer struct {
	skip           string
	individual     map[string]struct{}
	consolidations []ConsolidationRule
}

// NewDomainNormalizer builds a normalizer from the supplied rules.
func NewDomainNormalizer(rules DomainRules) *DomainNormalizer {
	individual := make(map[string]struct{}, len(rules.IndividualDomains))
	for _, d := range rules.IndividualDomains {
		individual[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &DomainNormalizer{
		skip:           strings.ToLower(strings.TrimSpace(rules.MarketplaceSkip)),
		individual:     individual,
		consolidations: rules.Consolidations,
	}
}

// Normalize maps a raw domain (or full email address, or protocol-prefixed
// URL) to a canonical company key. Rule order is significant:
//  1. marketplace-skip domain -> SkipSentinel
//  2. individual-account domain -> "individual:<domain>"
//  3. explicit consolidation rules -> fixed canonical domain
//  4. protected public-sector TLDs -> unchanged
//  5. everything else -> registrable domain per public-suffix rules
//
// Malformed input (empty, no TLD) yields "".
func (n *DomainNormalizer) Normalize(raw string) string {
	domain := cleanDomain(raw)
	if domain == "" {
		return ""
	}

	if n.skip != "" && domain == n.skip {
		return SkipSentinel
	}

	if _, ok := n.individual[domain]; ok {
		return IndividualPrefix + domain
	}

	for _, rule := range n.consolidations {
		if rule.Match != "" && strings.Contains(domain, strings.ToLower(rule.Match)) {
			return strings.ToLower(rule.Canonical)
		}
	}

	for _, suffix := range protectedSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return domain
		}
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return ""
	}
	return registrable
}

// cleanDomain lowercases the input and strips scheme, path, port, www
// prefix, and any local part before an @.
func cleanDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}

	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	d = strings.Trim(d, ".")

	// A bare label without a TLD is not a domain.
	if !strings.Contains(d, ".") {
		return ""
	}
	return d
}
