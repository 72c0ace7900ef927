// Package score aggregates rule hits on a candidate pair into a single
// confidence and primary match type.
package score

import (
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

// Scorer combines independent rule hits into one confidence value.
type Scorer struct {
	// MinConfidence is the global threshold below which a pair
	// produces no result. The boundary is inclusive: a pair scoring
	// exactly the threshold is retained.
	MinConfidence float64
}

// NewScorer creates a scorer with the given global threshold.
func NewScorer(minConfidence float64) *Scorer {
	return &Scorer{MinConfidence: minConfidence}
}

// Result is the aggregated outcome for one candidate pair.
type Result struct {
	Confidence  float64
	PrimaryType domain.MatchType
	Details     domain.MatchDetails
}

// Score aggregates the hits. Returns false when no hit fired or the
// combined confidence falls below the threshold; no flag is produced
// for such pairs.
//
// Aggregation is a probabilistic OR: confidence = 1 - prod(1 - score).
// Corroborating weak signals raise the total with diminishing returns
// and the result can never exceed 1. Two hits of 0.6 and 0.5 combine
// to 1 - 0.4*0.5 = 0.8.
func (s *Scorer) Score(hits []domain.RuleHit) (*Result, bool) {
	if len(hits) == 0 {
		return nil, false
	}

	miss := 1.0
	for _, h := range hits {
		miss *= 1 - clamp01(h.Score)
	}
	confidence := 1 - miss

	if confidence < s.MinConfidence {
		return nil, false
	}

	return &Result{
		Confidence:  confidence,
		PrimaryType: primaryType(hits),
		Details: domain.MatchDetails{
			Hits:        hits,
			EvaluatedAt: time.Now().UTC(),
		},
	}, true
}

// primaryType selects the single match type recorded as the dominant
// cause of a flag: highest individual score wins, ties broken by lower
// rule priority, then by the MatchType declaration order.
func primaryType(hits []domain.RuleHit) domain.MatchType {
	best := hits[0]
	for _, h := range hits[1:] {
		switch {
		case h.Score > best.Score:
			best = h
		case h.Score < best.Score:
		case h.Priority < best.Priority:
			best = h
		case h.Priority > best.Priority:
		case domain.MatchTypeRank(h.Type) < domain.MatchTypeRank(best.Type):
			best = h
		}
	}
	return best.Type
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
