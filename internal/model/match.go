package model

// MatchType identifies which step of the matching cascade produced a decision.
type MatchType string

const (
	MatchExact       MatchType = "exact"
	MatchNormalized  MatchType = "normalized"
	MatchSpecialCase MatchType = "special_case"
	MatchAcronym     MatchType = "acronym"
	MatchNone        MatchType = "none"
)

// MatchDecision is the outcome of resolving one input record against the
// entity store. Confidence is a [0,1] ranking value used for tie-breaking
// between candidates, never as an accept/reject threshold. Customer is nil
// when Type is MatchNone and the caller should create a new record.
type MatchDecision struct {
	Type       MatchType `json:"type"`
	Confidence float64   `json:"confidence"`
	Customer   *Customer `json:"-"`
}

// Matched reports whether the decision names an existing customer.
func (d MatchDecision) Matched() bool {
	return d.Type != MatchNone && d.Customer != nil
}
