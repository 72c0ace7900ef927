package flags

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/learnersafe/heron/internal/domain"
	"github.com/learnersafe/heron/internal/repository"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (s *recordingSink) Record(ctx context.Context, entry *domain.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actions []string
	for _, e := range s.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func detection(a, b string) *Detection {
	return &Detection{
		LearnerID:          a,
		DuplicateLearnerID: b,
		PrimaryType:        domain.MatchExactID,
		Confidence:         1.0,
		Details: domain.MatchDetails{
			Hits: []domain.RuleHit{{RuleID: "rule-exact-id", Type: domain.MatchExactID, Score: 1.0}},
		},
	}
}

func TestUpsertCreatesPendingFlag(t *testing.T) {
	repo := repository.NewMemory()
	sink := &recordingSink{}
	mgr := NewManager(repo, sink, nil)
	ctx := context.Background()

	outcome, err := mgr.Upsert(ctx, detection("learner-a", "learner-b"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("expected OutcomeCreated, got %v", outcome)
	}

	flags, err := repo.ListFlagsByStatus(ctx, domain.StatusPending)
	if err != nil {
		t.Fatalf("ListFlagsByStatus failed: %v", err)
	}
	if len(flags) != 1 {
		t.Fatalf("expected 1 pending flag, got %d", len(flags))
	}
	if flags[0].Status != domain.StatusPending {
		t.Errorf("new flags must start Pending, got %s", flags[0].Status)
	}

	actions := sink.actions()
	if len(actions) != 1 || actions[0] != domain.AuditActionFlagCreated {
		t.Errorf("expected one flag.created audit entry, got %v", actions)
	}
}

func TestUpsertRefusesSelfPair(t *testing.T) {
	mgr := NewManager(repository.NewMemory(), nil, nil)

	_, err := mgr.Upsert(context.Background(), detection("learner-a", "learner-a"))
	if err == nil {
		t.Error("self-referential detection must be rejected")
	}
}

func TestUpsertMergesIntoOpenFlag(t *testing.T) {
	repo := repository.NewMemory()
	sink := &recordingSink{}
	mgr := NewManager(repo, sink, nil)
	ctx := context.Background()

	if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}

	// Second detection for the same pair, reversed orientation and a
	// different confidence, refreshes the existing flag in place.
	d := detection("learner-b", "learner-a")
	d.Confidence = 0.8
	d.PrimaryType = domain.MatchNameAndDOB

	outcome, err := mgr.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("expected OutcomeUpdated, got %v", outcome)
	}

	flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)
	if len(flags) != 1 {
		t.Fatalf("re-detection must not duplicate the flag, got %d", len(flags))
	}
	if flags[0].Confidence != 0.8 || flags[0].PrimaryType != domain.MatchNameAndDOB {
		t.Errorf("flag not refreshed: %+v", flags[0])
	}

	actions := sink.actions()
	if len(actions) != 2 || actions[1] != domain.AuditActionFlagUpdated {
		t.Errorf("expected flag.created then flag.updated, got %v", actions)
	}
}

func TestUpsertSkipsReviewedFlag(t *testing.T) {
	repo := repository.NewMemory()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)
	if _, err := mgr.Review(ctx, flags[0].ID, domain.StatusFalsePositive, "reviewer-1", "same person twice"); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	// Review decisions are sticky: a later re-detection of the same
	// pair leaves the FalsePositive flag untouched.
	outcome, err := mgr.Upsert(ctx, detection("learner-a", "learner-b"))
	if err != nil {
		t.Fatalf("Upsert after review failed: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("expected OutcomeSkipped for reviewed pair, got %v", outcome)
	}

	reviewed, _ := repo.ListFlagsByStatus(ctx, domain.StatusFalsePositive)
	if len(reviewed) != 1 || reviewed[0].Status != domain.StatusFalsePositive {
		t.Errorf("reviewed flag was disturbed: %+v", reviewed)
	}
}

func TestUpsertAfterResolveCreatesNewFlag(t *testing.T) {
	repo := repository.NewMemory()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)
	if _, err := mgr.Review(ctx, flags[0].ID, domain.StatusResolved, "reviewer-1", ""); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	// The pair has no open flag anymore, so a fresh detection raises a
	// new Pending flag alongside the resolved history.
	outcome, err := mgr.Upsert(ctx, detection("learner-a", "learner-b"))
	if err != nil {
		t.Fatalf("Upsert after resolve failed: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("expected OutcomeCreated after resolution, got %v", outcome)
	}

	all, _ := repo.ListFlagsByLearner(ctx, "learner-a")
	if len(all) != 2 {
		t.Errorf("expected resolved flag plus new pending flag, got %d", len(all))
	}
}

func TestReviewTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.FlagStatus
		to      domain.FlagStatus
		allowed bool
	}{
		{"pending to under review", domain.StatusPending, domain.StatusUnderReview, true},
		{"pending to confirmed", domain.StatusPending, domain.StatusConfirmed, true},
		{"pending to false positive", domain.StatusPending, domain.StatusFalsePositive, true},
		{"pending to resolved", domain.StatusPending, domain.StatusResolved, true},
		{"under review to confirmed", domain.StatusUnderReview, domain.StatusConfirmed, true},
		{"under review to false positive", domain.StatusUnderReview, domain.StatusFalsePositive, true},
		{"under review to resolved", domain.StatusUnderReview, domain.StatusResolved, true},
		{"under review back to pending", domain.StatusUnderReview, domain.StatusPending, false},
		{"confirmed to resolved", domain.StatusConfirmed, domain.StatusResolved, true},
		{"confirmed to false positive", domain.StatusConfirmed, domain.StatusFalsePositive, false},
		{"confirmed back to pending", domain.StatusConfirmed, domain.StatusPending, false},
		{"false positive to resolved", domain.StatusFalsePositive, domain.StatusResolved, true},
		{"false positive to confirmed", domain.StatusFalsePositive, domain.StatusConfirmed, false},
		{"resolved is terminal", domain.StatusResolved, domain.StatusPending, false},
		{"resolved to confirmed", domain.StatusResolved, domain.StatusConfirmed, false},
		{"no self transition", domain.StatusPending, domain.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemory()
			mgr := NewManager(repo, nil, nil)
			ctx := context.Background()

			if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
			flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)
			flag := flags[0]

			// Walk the flag into the starting status.
			if tt.from != domain.StatusPending {
				if _, err := mgr.Review(ctx, flag.ID, tt.from, "setup", ""); err != nil {
					t.Fatalf("setup transition to %s failed: %v", tt.from, err)
				}
			}

			_, err := mgr.Review(ctx, flag.ID, tt.to, "reviewer-1", "")
			if tt.allowed && err != nil {
				t.Errorf("%s -> %s should be allowed, got: %v", tt.from, tt.to, err)
			}
			if !tt.allowed {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s should fail with ErrInvalidTransition, got: %v", tt.from, tt.to, err)
				}

				// A rejected transition changes nothing.
				after, _ := repo.GetFlag(ctx, flag.ID)
				if after.Status != tt.from {
					t.Errorf("rejected transition mutated status to %s", after.Status)
				}
			}
		})
	}
}

func TestReviewRequiresReviewer(t *testing.T) {
	repo := repository.NewMemory()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)

	_, err := mgr.Review(ctx, flags[0].ID, domain.StatusConfirmed, "", "")
	if !errors.Is(err, ErrReviewerRequired) {
		t.Errorf("expected ErrReviewerRequired, got: %v", err)
	}
}

func TestReviewUnknownStatus(t *testing.T) {
	mgr := NewManager(repository.NewMemory(), nil, nil)

	_, err := mgr.Review(context.Background(), "flag-x", domain.FlagStatus("ESCALATED"), "reviewer-1", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for unknown status, got: %v", err)
	}
}

func TestReviewMissingFlag(t *testing.T) {
	mgr := NewManager(repository.NewMemory(), nil, nil)

	_, err := mgr.Review(context.Background(), "no-such-flag", domain.StatusConfirmed, "reviewer-1", "")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestReviewStampsFields(t *testing.T) {
	repo := repository.NewMemory()
	sink := &recordingSink{}
	mgr := NewManager(repo, sink, nil)
	ctx := context.Background()

	if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)

	reviewed, err := mgr.Review(ctx, flags[0].ID, domain.StatusResolved, "reviewer-1", "records merged")
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if reviewed.ReviewedBy != "reviewer-1" {
		t.Errorf("expected ReviewedBy reviewer-1, got %s", reviewed.ReviewedBy)
	}
	if reviewed.ReviewedAt == nil {
		t.Error("ReviewedAt not stamped")
	}
	if reviewed.ResolvedAt == nil {
		t.Error("ResolvedAt must be stamped on resolution")
	}
	if reviewed.Notes != "records merged" {
		t.Errorf("notes not stored, got %q", reviewed.Notes)
	}

	actions := sink.actions()
	if len(actions) != 2 || actions[1] != domain.AuditActionFlagReviewed {
		t.Errorf("expected flag.reviewed audit entry, got %v", actions)
	}
	if sink.entries[1].PerformedBy != "reviewer-1" {
		t.Errorf("audit entry should carry the reviewer, got %q", sink.entries[1].PerformedBy)
	}
}

func TestConcurrentUpsertsSamePair(t *testing.T) {
	repo := repository.NewMemory()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Upsert(ctx, detection("learner-a", "learner-b")); err != nil {
				t.Errorf("concurrent Upsert failed: %v", err)
			}
		}()
	}
	wg.Wait()

	flags, _ := repo.ListFlagsByStatus(ctx, domain.StatusPending)
	if len(flags) != 1 {
		t.Errorf("concurrent detections of one pair must yield one flag, got %d", len(flags))
	}
}
