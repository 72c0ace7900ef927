// Package blocking produces candidate learner pairs for match
// evaluation. Full pairwise comparison is O(n^2) and infeasible for
// large populations, so records are grouped by cheap blocking keys and
// only pairs sharing at least one block are compared. The key set is a
// tunable, trading recall for tractability.
package blocking

import (
	"sort"
	"strings"

	"github.com/learnersafe/heron/internal/domain"
)

// Block key names accepted in DetectionConfig.BlockingKeys.
const (
	KeyIDPrefix = "id_prefix"
	KeyPassport = "passport"
	KeyPhone    = "phone"
	KeyEmail    = "email"
	KeyNameDOB  = "name_dob"
)

// Generator builds candidate pairs from a normalized population.
type Generator struct {
	keys      []string
	prefixLen int
}

// NewGenerator creates a generator using the configured blocking keys.
func NewGenerator(cfg domain.DetectionConfig) *Generator {
	keys := cfg.BlockingKeys
	if len(keys) == 0 {
		keys = domain.DefaultDetectionConfig().BlockingKeys
	}
	prefixLen := cfg.PartialIDPrefixLen
	if prefixLen <= 0 {
		prefixLen = 6
	}
	return &Generator{keys: keys, prefixLen: prefixLen}
}

// Pairs returns every unordered candidate pair whose two members share
// at least one blocking key. Each pair appears exactly once and a
// record is never paired with itself. The output order is deterministic.
func (g *Generator) Pairs(population []*domain.NormalizedIdentity) []*domain.CandidatePair {
	return g.collect(population, nil)
}

// PairsSince returns the candidate pairs with at least one member in
// the changed set. Changed records are still blocked against the whole
// population, not just each other: a freshly enrolled duplicate of an
// old, untouched record must be compared with it.
func (g *Generator) PairsSince(population []*domain.NormalizedIdentity, changed map[string]bool) []*domain.CandidatePair {
	if len(changed) == 0 {
		return nil
	}
	return g.collect(population, func(a, b *domain.NormalizedIdentity) bool {
		return changed[a.LearnerID] || changed[b.LearnerID]
	})
}

func (g *Generator) collect(population []*domain.NormalizedIdentity, keep func(a, b *domain.NormalizedIdentity) bool) []*domain.CandidatePair {
	blocks := make(map[string][]*domain.NormalizedIdentity)
	for _, n := range population {
		for _, key := range g.blockKeys(n) {
			blocks[key] = append(blocks[key], n)
		}
	}

	seen := make(map[string]bool)
	var pairs []*domain.CandidatePair

	for _, members := range blocks {
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i], members[j]
				if a.LearnerID == b.LearnerID {
					continue
				}
				if keep != nil && !keep(a, b) {
					continue
				}
				key := domain.PairKey(a.LearnerID, b.LearnerID)
				if seen[key] {
					continue
				}
				seen[key] = true
				pairs = append(pairs, orderedPair(a, b))
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Key() < pairs[j].Key()
	})
	return pairs
}

// PairsFor returns the candidate pairs between one target learner and
// the rest of the population, for on-demand single-learner checks.
func (g *Generator) PairsFor(target *domain.NormalizedIdentity, population []*domain.NormalizedIdentity) []*domain.CandidatePair {
	targetKeys := make(map[string]bool)
	for _, key := range g.blockKeys(target) {
		targetKeys[key] = true
	}

	seen := make(map[string]bool)
	var pairs []*domain.CandidatePair

	for _, n := range population {
		if n.LearnerID == target.LearnerID {
			continue
		}
		for _, key := range g.blockKeys(n) {
			if !targetKeys[key] {
				continue
			}
			pairKey := domain.PairKey(target.LearnerID, n.LearnerID)
			if seen[pairKey] {
				break
			}
			seen[pairKey] = true
			pairs = append(pairs, orderedPair(target, n))
			break
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Key() < pairs[j].Key()
	})
	return pairs
}

// blockKeys derives the blocking keys for one identity. Empty fields
// produce no key, so unblockable records are simply never compared on
// that dimension.
func (g *Generator) blockKeys(n *domain.NormalizedIdentity) []string {
	var keys []string
	for _, name := range g.keys {
		switch name {
		case KeyIDPrefix:
			if len(n.NationalID) >= g.prefixLen {
				keys = append(keys, "id:"+n.NationalID[:g.prefixLen])
			}
		case KeyPassport:
			if n.PassportNumber != "" {
				keys = append(keys, "pp:"+n.PassportNumber)
			}
		case KeyPhone:
			if n.Phone != "" {
				keys = append(keys, "ph:"+n.Phone)
			}
		case KeyEmail:
			if n.Email != "" {
				keys = append(keys, "em:"+n.Email)
			}
		case KeyNameDOB:
			if n.LastName != "" && n.HasDateOfBirth() {
				keys = append(keys, "nd:"+n.LastName+"|"+n.DateOfBirth.Format("2006-01-02"))
			}
		}
	}
	return keys
}

// orderedPair puts the lexically smaller learner id on the A side so
// repeated scans always see the same orientation.
func orderedPair(a, b *domain.NormalizedIdentity) *domain.CandidatePair {
	if strings.Compare(b.LearnerID, a.LearnerID) < 0 {
		a, b = b, a
	}
	return &domain.CandidatePair{A: a, B: b}
}
