package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/learnersafe/heron/internal/domain"
	"github.com/learnersafe/heron/internal/normalize"
)

func testConfig() domain.DetectionConfig {
	return domain.DefaultDetectionConfig()
}

func newTestEngine(t *testing.T, verifier domain.Verifier) *Engine {
	t.Helper()
	engine, err := NewEngine(testConfig(), verifier)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func identity(id, nationalID, first, last string, dob *time.Time) *domain.NormalizedIdentity {
	l := &domain.LearnerIdentity{
		ID:          id,
		NationalID:  nationalID,
		FirstName:   first,
		LastName:    last,
		DateOfBirth: dob,
	}
	return normalize.Identity(l, normalize.DefaultOptions())
}

func dob(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEngineCreation(t *testing.T) {
	engine := newTestEngine(t, nil)
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRuleValidation(t *testing.T) {
	engine := newTestEngine(t, nil)

	tests := []struct {
		name    string
		rule    *domain.MatchRule
		wantErr bool
	}{
		{"valid", &domain.MatchRule{ID: "r1", Type: domain.MatchExactID, Weight: 1.0, Enabled: true}, false},
		{"unknown type", &domain.MatchRule{ID: "r2", Type: "BOGUS", Weight: 1.0}, true},
		{"weight above one", &domain.MatchRule{ID: "r3", Type: domain.MatchPhone, Weight: 1.5}, true},
		{"bad filter", &domain.MatchRule{ID: "r4", Type: domain.MatchPhone, Weight: 0.5, Filter: "not valid CEL !!!"}, true},
		{"non-bool filter", &domain.MatchRule{ID: "r5", Type: domain.MatchPhone, Weight: 0.5, Filter: `a.first_name`}, true},
	}

	for _, tt := range tests {
		err := engine.LoadRule(tt.rule)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: LoadRule err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestExactIDMatch(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{ID: "exact", Type: domain.MatchExactID, Weight: 1.0, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "9001015009087", "John", "Doe", dob(1990, 1, 1)),
		B: identity("b", "9001015009087", "Jon", "Doe", dob(1990, 1, 1)),
	}

	hits, errs := engine.Evaluate(context.Background(), pair)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Type != domain.MatchExactID || hits[0].Score != 1.0 {
		t.Errorf("unexpected hit %+v", hits[0])
	}
}

func TestExactIDEmptyNeverMatches(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{ID: "exact", Type: domain.MatchExactID, Weight: 1.0, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "", "John", "Doe", nil),
		B: identity("b", "", "Jane", "Smith", nil),
	}

	hits, _ := engine.Evaluate(context.Background(), pair)
	if len(hits) != 0 {
		t.Errorf("empty ids must never match, got %+v", hits)
	}
}

func TestPartialIDMatch(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{ID: "partial", Type: domain.MatchPartialID, Weight: 0.4, Enabled: true})

	// Same YYMMDD birth segment, different remainder.
	pair := &domain.CandidatePair{
		A: identity("a", "9001015009087", "John", "Doe", nil),
		B: identity("b", "9001019912345", "Jane", "Smith", nil),
	}

	hits, _ := engine.Evaluate(context.Background(), pair)
	if len(hits) != 1 || hits[0].Score != 0.4 {
		t.Fatalf("expected partial hit with score 0.4, got %+v", hits)
	}

	// Fully equal ids are exact territory, not partial.
	pair.B = identity("b", "9001015009087", "Jane", "Smith", nil)
	hits, _ = engine.Evaluate(context.Background(), pair)
	if len(hits) != 0 {
		t.Errorf("identical ids should not produce a partial hit: %+v", hits)
	}
}

func TestNameAndDOBMatch(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{ID: "namedob", Type: domain.MatchNameAndDOB, Weight: 0.8, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "111", "José", "Müller", dob(1990, 1, 1)),
		B: identity("b", "222", "jose", "muller", dob(1990, 1, 1)),
	}

	hits, _ := engine.Evaluate(context.Background(), pair)
	if len(hits) != 1 || hits[0].Score != 0.8 {
		t.Fatalf("expected name+dob hit, got %+v", hits)
	}

	// Missing DOB on one side never matches.
	pair.B = identity("b", "222", "jose", "muller", nil)
	hits, _ = engine.Evaluate(context.Background(), pair)
	if len(hits) != 0 {
		t.Errorf("missing dob should not match: %+v", hits)
	}
}

func TestFuzzyMatchScalesWithSimilarity(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{ID: "fuzzy", Type: domain.MatchFuzzy, Weight: 0.6, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "111", "Johnathan", "Doe", nil),
		B: identity("b", "222", "Jonathan", "Doe", nil),
	}

	hits, _ := engine.Evaluate(context.Background(), pair)
	if len(hits) != 1 {
		t.Fatalf("expected fuzzy hit, got %+v", hits)
	}
	if hits[0].Score >= 0.6 || hits[0].Score <= 0 {
		t.Errorf("fuzzy score should be weight-scaled below 0.6, got %v", hits[0].Score)
	}

	// Dissimilar names do not fire.
	pair.B = identity("b", "222", "Completely", "Different", nil)
	hits, _ = engine.Evaluate(context.Background(), pair)
	if len(hits) != 0 {
		t.Errorf("dissimilar names should not match: %+v", hits)
	}
}

func TestFuzzyMatchDOBConflictVetoes(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{ID: "fuzzy", Type: domain.MatchFuzzy, Weight: 0.6, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "111", "Jonathan", "Doe", dob(1990, 1, 1)),
		B: identity("b", "222", "Johnathan", "Doe", dob(1985, 6, 15)),
	}

	hits, _ := engine.Evaluate(context.Background(), pair)
	if len(hits) != 0 {
		t.Errorf("conflicting DOBs should veto fuzzy match: %+v", hits)
	}
}

func TestMinConfidenceDiscardsHit(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{
		ID: "phone", Type: domain.MatchPhone, Weight: 0.3, MinConfidence: 0.5, Enabled: true,
	})

	a := identity("a", "", "", "", nil)
	b := identity("b", "", "", "", nil)
	a.Phone, b.Phone = "27821234567", "27821234567"

	hits, _ := engine.Evaluate(context.Background(), &domain.CandidatePair{A: a, B: b})
	if len(hits) != 0 {
		t.Errorf("hit below rule MinConfidence should be discarded: %+v", hits)
	}
}

func TestCELFilterGatesRule(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRule(&domain.MatchRule{
		ID:      "phone-same-affiliation",
		Type:    domain.MatchPhone,
		Weight:  0.5,
		Filter:  `a.affiliation == b.affiliation`,
		Enabled: true,
	})

	a := identity("a", "", "", "", nil)
	b := identity("b", "", "", "", nil)
	a.Phone, b.Phone = "27821234567", "27821234567"
	a.AffiliationCode, b.AffiliationCode = "MERSETA", "CHIETA"

	hits, _ := engine.Evaluate(context.Background(), &domain.CandidatePair{A: a, B: b})
	if len(hits) != 0 {
		t.Errorf("filter should gate rule for differing affiliations: %+v", hits)
	}

	b.AffiliationCode = "MERSETA"
	hits, _ = engine.Evaluate(context.Background(), &domain.CandidatePair{A: a, B: b})
	if len(hits) != 1 {
		t.Errorf("filter should pass for equal affiliations, got %+v", hits)
	}
}

// stubVerifier implements domain.Verifier for tests.
type stubVerifier struct {
	result *domain.VerificationResult
	err    error
	calls  int
}

func (s *stubVerifier) Verify(ctx context.Context, identity *domain.NormalizedIdentity) (*domain.VerificationResult, error) {
	s.calls++
	return s.result, s.err
}

func TestExternalVerificationMatch(t *testing.T) {
	verifier := &stubVerifier{result: &domain.VerificationResult{Verified: true, Confidence: 0.9, Provider: "home-affairs"}}
	engine := newTestEngine(t, verifier)
	engine.LoadRule(&domain.MatchRule{ID: "ext", Type: domain.MatchExternalVerification, Weight: 1.0, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "9001015009087", "John", "Doe", nil),
		B: identity("b", "9001015009087", "Jon", "Doe", nil),
	}

	hits, errs := engine.Evaluate(context.Background(), pair)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(hits) != 1 || hits[0].Score != 0.9 {
		t.Fatalf("expected verification hit with score 0.9, got %+v", hits)
	}
}

func TestAdapterFailureYieldsNoHitNotFatal(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("adapter timeout")}
	engine := newTestEngine(t, verifier)
	engine.LoadRule(&domain.MatchRule{ID: "ext", Type: domain.MatchExternalVerification, Weight: 1.0, Enabled: true})
	engine.LoadRule(&domain.MatchRule{ID: "exact", Type: domain.MatchExactID, Weight: 1.0, Enabled: true})

	pair := &domain.CandidatePair{
		A: identity("a", "9001015009087", "John", "Doe", nil),
		B: identity("b", "9001015009087", "Jon", "Doe", nil),
	}

	hits, errs := engine.Evaluate(context.Background(), pair)

	// The failing adapter rule is isolated: the exact rule still fires.
	if len(hits) != 1 || hits[0].Type != domain.MatchExactID {
		t.Errorf("expected only the exact hit, got %+v", hits)
	}
	if len(errs) != 1 {
		t.Errorf("adapter failure should be reported, got %v", errs)
	}
}

func TestReloadRulesReplacesSet(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.LoadRules(DefaultRules())
	if engine.RulesCount() != len(DefaultRules()) {
		t.Fatalf("expected %d rules, got %d", len(DefaultRules()), engine.RulesCount())
	}

	err := engine.ReloadRules([]*domain.MatchRule{
		{ID: "only", Type: domain.MatchEmail, Weight: 0.5, Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after reload, got %d", engine.RulesCount())
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"john doe", "john doe", 1.0, 1.0},
		{"jon doe", "john doe", 0.85, 0.99},
		{"jan van der merwe", "van der merwe jan", 1.0, 1.0},
		{"alice", "zebra", 0.0, 0.4},
	}

	for _, tt := range tests {
		got := nameSimilarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("nameSimilarity(%q, %q) = %v, want in [%v,%v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}
