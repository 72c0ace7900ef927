package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnersafe/heron/internal/domain"
)

// matchScore dispatches to the evaluator for the rule's match type.
// Empty-vs-empty never matches: every evaluator requires the compared
// field to be non-empty on both sides.
func (e *Engine) matchScore(ctx context.Context, rule *domain.MatchRule, pair *domain.CandidatePair) (float64, bool, string, error) {
	a, b := pair.A, pair.B

	switch rule.Type {
	case domain.MatchExactID:
		if equalNonEmpty(a.NationalID, b.NationalID) {
			return rule.Weight, true, "national id numbers identical", nil
		}
		// An alternate id equal to the other record's national or
		// alternate id is the same evidence.
		if equalNonEmpty(a.AlternateID, b.NationalID) ||
			equalNonEmpty(a.NationalID, b.AlternateID) ||
			equalNonEmpty(a.AlternateID, b.AlternateID) {
			return rule.Weight, true, "alternate id matches id number", nil
		}
		return 0, false, "", nil

	case domain.MatchPartialID:
		n := e.cfg.PartialIDPrefixLen
		if a.NationalID == b.NationalID {
			return 0, false, "", nil // exact match belongs to ExactID
		}
		if len(a.NationalID) >= n && len(b.NationalID) >= n && n > 0 &&
			a.NationalID[:n] == b.NationalID[:n] {
			return rule.Weight, true,
				fmt.Sprintf("id numbers share first %d characters", n), nil
		}
		return 0, false, "", nil

	case domain.MatchNameAndDOB:
		if a.FullName() == "" || !a.HasDateOfBirth() || !b.HasDateOfBirth() {
			return 0, false, "", nil
		}
		if a.FullName() == b.FullName() && a.DateOfBirth.Equal(b.DateOfBirth) {
			return rule.Weight, true, "name and date of birth identical", nil
		}
		return 0, false, "", nil

	case domain.MatchPhone:
		if equalNonEmpty(a.Phone, b.Phone) {
			return rule.Weight, true, "phone numbers identical", nil
		}
		return 0, false, "", nil

	case domain.MatchEmail:
		if equalNonEmpty(a.Email, b.Email) {
			return rule.Weight, true, "email addresses identical", nil
		}
		return 0, false, "", nil

	case domain.MatchPassport:
		if equalNonEmpty(a.PassportNumber, b.PassportNumber) {
			return rule.Weight, true, "passport numbers identical", nil
		}
		return 0, false, "", nil

	case domain.MatchFuzzy:
		return e.fuzzyScore(rule, a, b)

	case domain.MatchExternalVerification:
		return e.verificationScore(ctx, rule, a, b)

	default:
		return 0, false, "", fmt.Errorf("unknown match type %q", rule.Type)
	}
}

// fuzzyScore matches near-identical names. The score scales with the
// similarity, so a 0.9-similar name on a 0.7-weight rule scores 0.63.
func (e *Engine) fuzzyScore(rule *domain.MatchRule, a, b *domain.NormalizedIdentity) (float64, bool, string, error) {
	nameA, nameB := a.FullName(), b.FullName()
	if nameA == "" || nameB == "" {
		return 0, false, "", nil
	}
	if nameA == nameB {
		// An identical name alone is NameAndDOB territory; fuzzy still
		// fires on it so corroboration works when DOB is missing.
		return rule.Weight, true, "names identical", nil
	}

	sim := nameSimilarity(nameA, nameB)
	if sim < e.cfg.FuzzySimilarityThreshold {
		return 0, false, "", nil
	}

	// Conflicting dates of birth veto a fuzzy name match.
	if a.HasDateOfBirth() && b.HasDateOfBirth() && !a.DateOfBirth.Equal(b.DateOfBirth) {
		return 0, false, "", nil
	}

	return rule.Weight * sim, true,
		fmt.Sprintf("names %.0f%% similar", sim*100), nil
}

// verificationScore consults the external verification adapter. It only
// applies when the two records already share a national id number; the
// adapter then attests that the id belongs to a real, verified person.
// Adapter failure yields no hit and is reported, never a false match.
func (e *Engine) verificationScore(ctx context.Context, rule *domain.MatchRule, a, b *domain.NormalizedIdentity) (float64, bool, string, error) {
	if e.verifier == nil {
		return 0, false, "", nil
	}
	if !equalNonEmpty(a.NationalID, b.NationalID) {
		return 0, false, "", nil
	}

	result, err := e.verifier.Verify(ctx, a)
	if err != nil {
		return 0, false, "", fmt.Errorf("verification adapter: %w", err)
	}
	if result == nil || !result.Verified {
		return 0, false, "", nil
	}

	confidence := result.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1
	}
	return rule.Weight * confidence, true,
		fmt.Sprintf("identity verified by %s", result.Provider), nil
}

func equalNonEmpty(a, b string) bool {
	return a != "" && a == b
}

// nameSimilarity combines edit-distance similarity over the full name
// with a token-sorted variant, so "jan van der merwe" still matches
// "van der merwe jan".
func nameSimilarity(a, b string) float64 {
	direct := levenshteinSimilarity(a, b)
	sorted := levenshteinSimilarity(sortTokens(a), sortTokens(b))
	if sorted > direct {
		return sorted
	}
	return direct
}

func sortTokens(s string) string {
	fields := strings.Fields(s)
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j] < fields[j-1]; j-- {
			fields[j], fields[j-1] = fields[j-1], fields[j]
		}
	}
	return strings.Join(fields, " ")
}

// levenshteinSimilarity returns 1 - dist/maxLen over runes.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with a single-row table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur := row[j]
			row[j] = min3(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
