package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

// MemoryRepository is an in-memory domain.Repository for tests and
// throwaway environments. It honors the same version semantics as the
// SQL implementation so conflict handling is exercised either way.
type MemoryRepository struct {
	mu sync.RWMutex

	learners map[string]*domain.LearnerIdentity
	rules    map[string]*domain.MatchRule
	flags    map[string]*domain.DuplicationFlag
	scans    map[string]*domain.ScanReport
	audits   []*domain.AuditEntry
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		learners: make(map[string]*domain.LearnerIdentity),
		rules:    make(map[string]*domain.MatchRule),
		flags:    make(map[string]*domain.DuplicationFlag),
		scans:    make(map[string]*domain.ScanReport),
	}
}

func (m *MemoryRepository) ListLearners(ctx context.Context) ([]*domain.LearnerIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	learners := make([]*domain.LearnerIdentity, 0, len(m.learners))
	for _, l := range m.learners {
		c := *l
		learners = append(learners, &c)
	}
	sort.Slice(learners, func(i, j int) bool { return learners[i].ID < learners[j].ID })
	return learners, nil
}

func (m *MemoryRepository) ListLearnersChangedSince(ctx context.Context, since time.Time) ([]*domain.LearnerIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var learners []*domain.LearnerIdentity
	for _, l := range m.learners {
		if l.UpdatedAt.Before(since) {
			continue
		}
		c := *l
		learners = append(learners, &c)
	}
	sort.Slice(learners, func(i, j int) bool { return learners[i].ID < learners[j].ID })
	return learners, nil
}

func (m *MemoryRepository) GetLearner(ctx context.Context, learnerID string) (*domain.LearnerIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.learners[learnerID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *MemoryRepository) SaveLearner(ctx context.Context, l *domain.LearnerIdentity) error {
	if l.ID == "" {
		return fmt.Errorf("%w: learner id is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *l
	m.learners[l.ID] = &c
	return nil
}

func (m *MemoryRepository) ListMatchRules(ctx context.Context) ([]*domain.MatchRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rules []*domain.MatchRule
	for _, r := range m.rules {
		if !r.Enabled {
			continue
		}
		c := *r
		rules = append(rules, &c)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (m *MemoryRepository) SaveMatchRule(ctx context.Context, rule *domain.MatchRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *rule
	m.rules[rule.ID] = &c
	return nil
}

func (m *MemoryRepository) FindOpenFlag(ctx context.Context, learnerID, duplicateLearnerID string) (*domain.DuplicationFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairKey := domain.PairKey(learnerID, duplicateLearnerID)

	var newest *domain.DuplicationFlag
	for _, f := range m.flags {
		if f.PairKey() != pairKey || f.Status == domain.StatusResolved {
			continue
		}
		if newest == nil || f.CreatedAt.After(newest.CreatedAt) {
			newest = f
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	c := *newest
	return &c, nil
}

func (m *MemoryRepository) GetFlag(ctx context.Context, flagID string) (*domain.DuplicationFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flags[flagID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *f
	return &c, nil
}

func (m *MemoryRepository) CreateFlag(ctx context.Context, flag *domain.DuplicationFlag) error {
	if flag.ID == "" {
		return fmt.Errorf("%w: flag id is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	flag.Version = 1
	c := *flag
	m.flags[flag.ID] = &c
	return nil
}

func (m *MemoryRepository) UpdateFlag(ctx context.Context, flag *domain.DuplicationFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.flags[flag.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != flag.Version {
		return ErrConflict
	}

	flag.Version++
	c := *flag
	m.flags[flag.ID] = &c
	return nil
}

func (m *MemoryRepository) ListFlagsByStatus(ctx context.Context, statuses ...domain.FlagStatus) ([]*domain.DuplicationFlag, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("%w: at least one status is required", ErrInvalidInput)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[domain.FlagStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var flags []*domain.DuplicationFlag
	for _, f := range m.flags {
		if !wanted[f.Status] {
			continue
		}
		c := *f
		flags = append(flags, &c)
	}
	sortFlagsNewestFirst(flags)
	return flags, nil
}

func (m *MemoryRepository) ListFlagsByLearner(ctx context.Context, learnerID string) ([]*domain.DuplicationFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var flags []*domain.DuplicationFlag
	for _, f := range m.flags {
		if f.LearnerID != learnerID && f.DuplicateLearnerID != learnerID {
			continue
		}
		c := *f
		flags = append(flags, &c)
	}
	sortFlagsNewestFirst(flags)
	return flags, nil
}

func (m *MemoryRepository) SaveScanReport(ctx context.Context, report *domain.ScanReport) error {
	if report.ID == "" {
		return fmt.Errorf("%w: scan id is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *report
	m.scans[report.ID] = &c
	return nil
}

func (m *MemoryRepository) GetScanReport(ctx context.Context, scanID string) (*domain.ScanReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.scans[scanID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *MemoryRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *entry
	m.audits = append(m.audits, &c)
	return nil
}

// AuditEntries returns a copy of the audit log, oldest first. Test hook.
func (m *MemoryRepository) AuditEntries() []*domain.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*domain.AuditEntry, 0, len(m.audits))
	for _, e := range m.audits {
		c := *e
		entries = append(entries, &c)
	}
	return entries
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryRepository) Close() error {
	return nil
}

func sortFlagsNewestFirst(flags []*domain.DuplicationFlag) {
	sort.Slice(flags, func(i, j int) bool {
		if !flags[i].CreatedAt.Equal(flags[j].CreatedAt) {
			return flags[i].CreatedAt.After(flags[j].CreatedAt)
		}
		return flags[i].ID < flags[j].ID
	})
}
