// Package flags owns the duplication flag lifecycle: creation,
// re-detection merging and the human review state machine. All status
// mutations go through one guarded transition function; there are no ad
// hoc field writes.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnersafe/heron/internal/domain"
	"github.com/learnersafe/heron/internal/repository"
)

// ErrInvalidTransition is returned when a review request targets a
// transition not permitted by the state machine.
var ErrInvalidTransition = errors.New("invalid flag transition")

// ErrReviewerRequired is returned when a transition carries no reviewer.
var ErrReviewerRequired = errors.New("reviewer identity is required")

// Detection is one scorer result routed to the flag manager.
type Detection struct {
	LearnerID          string
	DuplicateLearnerID string
	PrimaryType        domain.MatchType
	Confidence         float64
	Details            domain.MatchDetails
}

// Outcome describes what Upsert did with a detection.
type Outcome int

const (
	// OutcomeCreated means a new flag was raised.
	OutcomeCreated Outcome = iota
	// OutcomeUpdated means an open flag was refreshed in place.
	OutcomeUpdated
	// OutcomeSkipped means a reviewed flag already covers the pair;
	// review decisions are sticky and re-scans leave them untouched.
	OutcomeSkipped
)

// lockStripes bounds the per-pair mutex table.
const lockStripes = 64

// Manager creates, merges and transitions duplication flags.
type Manager struct {
	repo  domain.Repository
	audit domain.AuditSink
	bus   domain.EventBus

	// stripes serialize flag writes per pair key so two scan workers
	// cannot race a duplicate flag into existence for the same pair.
	stripes [lockStripes]sync.Mutex
}

// NewManager creates a flag manager. The audit sink and bus may be nil.
func NewManager(repo domain.Repository, audit domain.AuditSink, bus domain.EventBus) *Manager {
	return &Manager{repo: repo, audit: audit, bus: bus}
}

// Upsert routes one detection to the flag store. An open flag for the
// same unordered pair is refreshed in place; a reviewed flag
// (Confirmed/FalsePositive) leaves the detection with no effect; with
// no prior flag a new Pending one is created. A write conflict is
// retried once.
func (m *Manager) Upsert(ctx context.Context, d *Detection) (Outcome, error) {
	if d.LearnerID == d.DuplicateLearnerID && d.DuplicateLearnerID != "" {
		return OutcomeSkipped, fmt.Errorf("refusing self-referential flag for learner %s", d.LearnerID)
	}

	lock := m.pairLock(domain.PairKey(d.LearnerID, d.DuplicateLearnerID))
	lock.Lock()
	defer lock.Unlock()

	outcome, err := m.upsertLocked(ctx, d)
	if errors.Is(err, repository.ErrConflict) {
		outcome, err = m.upsertLocked(ctx, d)
	}
	return outcome, err
}

func (m *Manager) upsertLocked(ctx context.Context, d *Detection) (Outcome, error) {
	existing, err := m.repo.FindOpenFlag(ctx, d.LearnerID, d.DuplicateLearnerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return OutcomeSkipped, err
	}

	if existing != nil {
		if !existing.Status.Open() {
			// Confirmed or FalsePositive: the human decision stands.
			return OutcomeSkipped, nil
		}

		before := snapshot(existing)
		existing.PrimaryType = d.PrimaryType
		existing.Confidence = d.Confidence
		existing.Details = d.Details
		existing.UpdatedAt = time.Now().UTC()

		if err := m.repo.UpdateFlag(ctx, existing); err != nil {
			return OutcomeSkipped, err
		}

		m.record(ctx, domain.AuditActionFlagUpdated, "", existing, before)
		m.publish(ctx, domain.TopicFlagUpdated, existing)
		return OutcomeUpdated, nil
	}

	now := time.Now().UTC()
	flag := &domain.DuplicationFlag{
		ID:                 uuid.New().String(),
		LearnerID:          d.LearnerID,
		DuplicateLearnerID: d.DuplicateLearnerID,
		PrimaryType:        d.PrimaryType,
		Confidence:         d.Confidence,
		Details:            d.Details,
		Status:             domain.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := m.repo.CreateFlag(ctx, flag); err != nil {
		return OutcomeSkipped, err
	}

	m.record(ctx, domain.AuditActionFlagCreated, "", flag, nil)
	m.publish(ctx, domain.TopicFlagCreated, flag)
	return OutcomeCreated, nil
}

// Review applies a human review transition. The requested status must
// appear in the transition table for the flag's current status or the
// call fails with ErrInvalidTransition and changes nothing.
func (m *Manager) Review(ctx context.Context, flagID string, requested domain.FlagStatus, reviewedBy, notes string) (*domain.DuplicationFlag, error) {
	if reviewedBy == "" {
		return nil, ErrReviewerRequired
	}
	if !requested.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, requested)
	}

	flag, err := m.repo.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}

	lock := m.pairLock(flag.PairKey())
	lock.Lock()
	defer lock.Unlock()

	flag, err = m.reviewLocked(ctx, flagID, requested, reviewedBy, notes)
	if errors.Is(err, repository.ErrConflict) {
		flag, err = m.reviewLocked(ctx, flagID, requested, reviewedBy, notes)
	}
	return flag, err
}

func (m *Manager) reviewLocked(ctx context.Context, flagID string, requested domain.FlagStatus, reviewedBy, notes string) (*domain.DuplicationFlag, error) {
	flag, err := m.repo.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}

	if !flag.Status.CanTransition(requested) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, flag.Status, requested)
	}

	before := snapshot(flag)
	now := time.Now().UTC()

	flag.Status = requested
	flag.ReviewedBy = reviewedBy
	flag.ReviewedAt = &now
	flag.UpdatedAt = now
	if notes != "" {
		flag.Notes = notes
	}
	if requested == domain.StatusResolved {
		flag.ResolvedAt = &now
	}

	if err := m.repo.UpdateFlag(ctx, flag); err != nil {
		return nil, err
	}

	m.record(ctx, domain.AuditActionFlagReviewed, reviewedBy, flag, before)
	m.publish(ctx, domain.TopicFlagReviewed, flag)

	slog.Info("flag reviewed",
		"flag_id", flag.ID,
		"status", flag.Status,
		"reviewed_by", reviewedBy,
	)

	return flag, nil
}

// pairLock returns the stripe mutex for a pair key.
func (m *Manager) pairLock(pairKey string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(pairKey))
	return &m.stripes[h.Sum32()%lockStripes]
}

// record emits an audit entry. Auditing is fire-and-forget: the sink
// logs its own failures and never blocks a transition.
func (m *Manager) record(ctx context.Context, action, performedBy string, flag *domain.DuplicationFlag, before json.RawMessage) {
	if m.audit == nil {
		return
	}
	m.audit.Record(ctx, &domain.AuditEntry{
		ID:          uuid.New().String(),
		EntityName:  "DuplicationFlag",
		EntityID:    flag.ID,
		Action:      action,
		PerformedBy: performedBy,
		PerformedAt: time.Now().UTC(),
		Before:      before,
		After:       snapshot(flag),
	})
}

func (m *Manager) publish(ctx context.Context, topic string, flag *domain.DuplicationFlag) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(flag)
	if err := m.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish flag event",
			"topic", topic,
			"flag_id", flag.ID,
			"error", err,
		)
	}
}

func snapshot(flag *domain.DuplicationFlag) json.RawMessage {
	b, _ := json.Marshal(flag)
	return b
}
