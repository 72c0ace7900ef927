package domain

import "time"

// FlagStatus is the review state of a duplication flag.
type FlagStatus string

const (
	StatusPending       FlagStatus = "PENDING"
	StatusUnderReview   FlagStatus = "UNDER_REVIEW"
	StatusConfirmed     FlagStatus = "CONFIRMED"
	StatusFalsePositive FlagStatus = "FALSE_POSITIVE"
	StatusResolved      FlagStatus = "RESOLVED"
)

// flagTransitions is the complete legal transition table. Resolved is
// the absorbing terminal state; nothing ever re-enters Pending.
var flagTransitions = map[FlagStatus][]FlagStatus{
	StatusPending:       {StatusUnderReview, StatusConfirmed, StatusFalsePositive, StatusResolved},
	StatusUnderReview:   {StatusConfirmed, StatusFalsePositive, StatusResolved},
	StatusConfirmed:     {StatusResolved},
	StatusFalsePositive: {StatusResolved},
	StatusResolved:      {},
}

// Valid reports whether s is a known status.
func (s FlagStatus) Valid() bool {
	_, ok := flagTransitions[s]
	return ok
}

// CanTransition reports whether s -> to appears in the transition table.
func (s FlagStatus) CanTransition(to FlagStatus) bool {
	for _, next := range flagTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether automated re-scans may still update a flag in
// this status. Review decisions are sticky: Confirmed, FalsePositive
// and Resolved flags are never touched by later scans.
func (s FlagStatus) Open() bool {
	return s == StatusPending || s == StatusUnderReview
}

// MatchDetails is the audit record of which rules fired on a pair and
// what each contributed.
type MatchDetails struct {
	Hits        []RuleHit `json:"hits"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// DuplicationFlag is the persistent finding that two learner records
// likely represent the same person.
type DuplicationFlag struct {
	ID        string `json:"id"`
	LearnerID string `json:"learnerId"`

	// DuplicateLearnerID is empty for flags raised against an
	// unresolved external source.
	DuplicateLearnerID string `json:"duplicateLearnerId,omitempty"`

	PrimaryType MatchType    `json:"primaryType"`
	Confidence  float64      `json:"confidenceScore"`
	Details     MatchDetails `json:"matchDetails"`

	Status     FlagStatus `json:"status"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	Notes      string     `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version backs optimistic concurrency on flag updates.
	Version int64 `json:"-"`
}

// PairKey returns the canonical unordered key for the flagged pair.
func (f *DuplicationFlag) PairKey() string {
	return PairKey(f.LearnerID, f.DuplicateLearnerID)
}
