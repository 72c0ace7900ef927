package rules

import "github.com/learnersafe/heron/internal/domain"

// DefaultRules returns the stock rule set used to seed an empty
// database. Administrators can tune weights and thresholds afterwards
// via the rules API.
func DefaultRules() []*domain.MatchRule {
	return []*domain.MatchRule{
		{
			ID:       "rule-exact-id",
			Name:     "Exact ID number match",
			Type:     domain.MatchExactID,
			Weight:   1.0,
			Priority: 10,
			Enabled:  true,
		},
		{
			ID:       "rule-passport",
			Name:     "Passport number match",
			Type:     domain.MatchPassport,
			Weight:   0.95,
			Priority: 20,
			Enabled:  true,
		},
		{
			ID:       "rule-name-dob",
			Name:     "Name and date of birth match",
			Type:     domain.MatchNameAndDOB,
			Weight:   0.8,
			Priority: 30,
			Enabled:  true,
		},
		{
			ID:          "rule-partial-id",
			Name:        "Partial ID number match",
			Description: "ID numbers sharing the birth-date-derived prefix",
			Type:        domain.MatchPartialID,
			Weight:      0.4,
			Priority:    40,
			Enabled:     true,
		},
		{
			ID:       "rule-phone",
			Name:     "Phone number match",
			Type:     domain.MatchPhone,
			Weight:   0.5,
			Priority: 50,
			Enabled:  true,
		},
		{
			ID:       "rule-email",
			Name:     "Email address match",
			Type:     domain.MatchEmail,
			Weight:   0.6,
			Priority: 60,
			Enabled:  true,
		},
		{
			ID:            "rule-fuzzy-name",
			Name:          "Fuzzy name match",
			Type:          domain.MatchFuzzy,
			Weight:        0.6,
			Priority:      70,
			MinConfidence: 0.4,
			Enabled:       true,
		},
		{
			ID:       "rule-external-verification",
			Name:     "External identity verification",
			Type:     domain.MatchExternalVerification,
			Weight:   1.0,
			Priority: 80,
			Enabled:  true,
		},
	}
}
