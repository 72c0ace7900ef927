package domain

import "time"

// MatchType classifies what evidence caused two learner records to be
// considered duplicates. The declaration order below is the final
// tie-break when selecting a flag's primary match type.
type MatchType string

const (
	MatchExactID              MatchType = "EXACT_ID"
	MatchPartialID            MatchType = "PARTIAL_ID"
	MatchNameAndDOB           MatchType = "NAME_AND_DOB"
	MatchPhone                MatchType = "PHONE"
	MatchEmail                MatchType = "EMAIL"
	MatchPassport             MatchType = "PASSPORT"
	MatchFuzzy                MatchType = "FUZZY"
	MatchExternalVerification MatchType = "EXTERNAL_VERIFICATION"
)

// MatchTypeOrder lists all match types in declaration order.
var MatchTypeOrder = []MatchType{
	MatchExactID,
	MatchPartialID,
	MatchNameAndDOB,
	MatchPhone,
	MatchEmail,
	MatchPassport,
	MatchFuzzy,
	MatchExternalVerification,
}

// MatchTypeRank returns the declaration-order index of t, or the length
// of the enumeration for unknown values so they always lose tie-breaks.
func MatchTypeRank(t MatchType) int {
	for i, mt := range MatchTypeOrder {
		if mt == t {
			return i
		}
	}
	return len(MatchTypeOrder)
}

// Valid reports whether t is a member of the closed enumeration.
func (t MatchType) Valid() bool {
	return MatchTypeRank(t) < len(MatchTypeOrder)
}

// MatchRule configures one duplication detection rule. Rules are
// authored by administrators and loaded read-only per scan; the engine
// never mutates them.
type MatchRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        MatchType `json:"type"`

	// Weight is the base confidence contributed by a hit, in [0,1].
	Weight float64 `json:"weight"`

	// Priority orders evaluation and breaks primary-type ties;
	// lower values win.
	Priority int `json:"priority"`

	// MinConfidence discards a hit whose score falls below it.
	MinConfidence float64 `json:"minConfidence"`

	// Filter is an optional CEL expression over the candidate pair
	// that gates whether the rule applies, e.g.
	// "a.affiliation == b.affiliation". Empty means always applicable.
	Filter string `json:"filter,omitempty"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleHit records a single rule firing on a candidate pair.
type RuleHit struct {
	RuleID string    `json:"ruleId"`
	Type   MatchType `json:"type"`

	// Score is the rule's individual confidence contribution in [0,1].
	Score float64 `json:"score"`

	// Priority is carried from the rule for primary-type tie-breaks.
	Priority int `json:"priority"`

	Reason string `json:"reason,omitempty"`
}
