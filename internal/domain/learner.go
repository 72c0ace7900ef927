package domain

import (
	"time"
)

// LearnerIdentity is the immutable identity snapshot used for matching.
// Records are owned by the learner store; the engine only reads them.
type LearnerIdentity struct {
	ID string `json:"id"`

	// Government-issued identifiers
	NationalID     string `json:"nationalId"`
	AlternateID    string `json:"alternateId,omitempty"`
	PassportNumber string `json:"passportNumber,omitempty"`

	// Personal details
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`

	// Contact details
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`

	// Training-authority affiliation (SETA code)
	AffiliationCode string `json:"affiliationCode,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizedIdentity holds the canonical comparison forms of a learner's
// identity fields. Produced by the normalizer; empty fields never match.
type NormalizedIdentity struct {
	LearnerID string

	NationalID     string
	AlternateID    string
	PassportNumber string

	// Case-folded, accent-stripped forms used for comparison. The
	// original casing stays on the LearnerIdentity for display.
	FirstName string
	LastName  string

	// DateOfBirth truncated to a calendar date, zero when absent.
	DateOfBirth time.Time

	// Digits-only with national prefix folded in.
	Phone string

	Email string

	AffiliationCode string
}

// FullName returns the normalized "first last" form used by name rules.
func (n *NormalizedIdentity) FullName() string {
	switch {
	case n.FirstName == "" && n.LastName == "":
		return ""
	case n.FirstName == "":
		return n.LastName
	case n.LastName == "":
		return n.FirstName
	}
	return n.FirstName + " " + n.LastName
}

// HasDateOfBirth reports whether a usable date of birth was supplied.
func (n *NormalizedIdentity) HasDateOfBirth() bool {
	return !n.DateOfBirth.IsZero()
}

// CandidatePair is a transient pairing of two learners selected for
// match evaluation. Never persisted; a pair only becomes a
// DuplicationFlag when its aggregated confidence clears the threshold.
type CandidatePair struct {
	A *NormalizedIdentity
	B *NormalizedIdentity
}

// Key returns the canonical unordered pair key. Both (A,B) and (B,A)
// produce the same key, which backs flag deduplication and the
// per-pair write serialization in the flag manager.
func (p *CandidatePair) Key() string {
	return PairKey(p.A.LearnerID, p.B.LearnerID)
}

// PairKey builds the canonical unordered key for two learner ids.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
