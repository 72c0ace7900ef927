package blocking

import (
	"testing"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

func ident(id, nationalID, phone string) *domain.NormalizedIdentity {
	return &domain.NormalizedIdentity{LearnerID: id, NationalID: nationalID, Phone: phone}
}

func newGen() *Generator {
	return NewGenerator(domain.DefaultDetectionConfig())
}

func TestPairsShareIDPrefix(t *testing.T) {
	gen := newGen()

	pairs := gen.Pairs([]*domain.NormalizedIdentity{
		ident("a", "9001015009087", ""),
		ident("b", "9001019912345", ""),
		ident("c", "8506150001234", ""),
	})

	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair (shared id prefix), got %d", len(pairs))
	}
	if pairs[0].A.LearnerID != "a" || pairs[0].B.LearnerID != "b" {
		t.Errorf("unexpected pair %s|%s", pairs[0].A.LearnerID, pairs[0].B.LearnerID)
	}
}

func TestPairsDedupAcrossBlocks(t *testing.T) {
	gen := newGen()

	// a and b share both the id prefix and the phone block; the pair
	// must still be produced exactly once.
	pairs := gen.Pairs([]*domain.NormalizedIdentity{
		ident("a", "9001015009087", "27821234567"),
		ident("b", "9001019912345", "27821234567"),
	})

	if len(pairs) != 1 {
		t.Errorf("pair sharing two blocks should appear once, got %d", len(pairs))
	}
}

func TestNeverPairsRecordWithItself(t *testing.T) {
	gen := newGen()

	pairs := gen.Pairs([]*domain.NormalizedIdentity{
		ident("a", "9001015009087", ""),
		ident("a", "9001015009087", ""),
	})

	for _, p := range pairs {
		if p.A.LearnerID == p.B.LearnerID {
			t.Errorf("pair (%s,%s) violates learnerId != duplicateLearnerId", p.A.LearnerID, p.B.LearnerID)
		}
	}
}

func TestEmptyFieldsProduceNoBlocks(t *testing.T) {
	gen := newGen()

	pairs := gen.Pairs([]*domain.NormalizedIdentity{
		ident("a", "", ""),
		ident("b", "", ""),
	})

	if len(pairs) != 0 {
		t.Errorf("records with no blockable fields should produce no pairs, got %d", len(pairs))
	}
}

func TestNameDOBBlock(t *testing.T) {
	gen := newGen()
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	pairs := gen.Pairs([]*domain.NormalizedIdentity{
		{LearnerID: "a", LastName: "doe", DateOfBirth: dob},
		{LearnerID: "b", LastName: "doe", DateOfBirth: dob},
		{LearnerID: "c", LastName: "doe"}, // no DOB, no block
	})

	if len(pairs) != 1 {
		t.Fatalf("expected 1 name+dob pair, got %d", len(pairs))
	}
}

func TestPairsDeterministicOrder(t *testing.T) {
	gen := newGen()
	population := []*domain.NormalizedIdentity{
		ident("c", "9001015009087", ""),
		ident("a", "9001019912345", ""),
		ident("b", "9001017770000", ""),
	}

	first := gen.Pairs(population)
	for i := 0; i < 10; i++ {
		again := gen.Pairs(population)
		if len(again) != len(first) {
			t.Fatalf("pair count changed between runs")
		}
		for j := range again {
			if again[j].Key() != first[j].Key() {
				t.Fatalf("pair order changed between runs: %s vs %s", again[j].Key(), first[j].Key())
			}
		}
	}
}

func TestPairsSinceCrossesIntoUnchangedPopulation(t *testing.T) {
	gen := newGen()
	population := []*domain.NormalizedIdentity{
		ident("old-a", "9001015009087", ""),
		ident("old-b", "8506150001234", ""),
		ident("new-c", "9001015009087", ""), // duplicate of old-a
	}

	pairs := gen.PairsSince(population, map[string]bool{"new-c": true})
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair between the changed record and the unchanged population, got %d", len(pairs))
	}
	if pairs[0].A.LearnerID != "new-c" && pairs[0].B.LearnerID != "new-c" {
		t.Errorf("pair %s does not involve the changed record", pairs[0].Key())
	}

	// old-a and new-c still share a block, but with neither in the
	// changed set their pair is outside the incremental scope.
	if pairs := gen.PairsSince(population, map[string]bool{"old-b": true}); len(pairs) != 0 {
		t.Errorf("expected no pairs when both block members are unchanged, got %d", len(pairs))
	}

	if pairs := gen.PairsSince(population, nil); pairs != nil {
		t.Errorf("empty changed set should produce no pairs, got %d", len(pairs))
	}
}

func TestPairsFor(t *testing.T) {
	gen := newGen()
	target := ident("t", "9001015009087", "27821234567")

	pairs := gen.PairsFor(target, []*domain.NormalizedIdentity{
		ident("a", "9001019912345", ""),
		ident("b", "", "27821234567"),
		ident("c", "8506150001234", ""),
		ident("t", "9001015009087", "27821234567"), // self, skipped
	})

	if len(pairs) != 2 {
		t.Fatalf("expected 2 candidate pairs for target, got %d", len(pairs))
	}
	for _, p := range pairs {
		if p.A.LearnerID != "t" && p.B.LearnerID != "t" {
			t.Errorf("pair %s does not involve the target", p.Key())
		}
	}
}
