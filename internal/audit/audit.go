// Package audit writes engine mutations to the append-only audit log.
package audit

import (
	"context"
	"log/slog"

	"github.com/learnersafe/heron/internal/domain"
)

// Sink records audit entries through the repository. Failures are
// logged and swallowed so auditing never blocks or rolls back the flag
// transition that produced the entry.
type Sink struct {
	repo domain.Repository
}

// NewSink creates an audit sink backed by the repository.
func NewSink(repo domain.Repository) *Sink {
	return &Sink{repo: repo}
}

// Record appends one audit entry.
func (s *Sink) Record(ctx context.Context, entry *domain.AuditEntry) {
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		slog.Error("failed to append audit entry",
			"entity", entry.EntityName,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err,
		)
	}
}
