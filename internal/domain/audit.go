package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AuditEntry is one append-only record of an engine-driven mutation.
// Every flag creation and review transition emits one.
type AuditEntry struct {
	ID          string          `json:"id"`
	EntityName  string          `json:"entityName"`
	EntityID    string          `json:"entityId"`
	Action      string          `json:"action"`
	PerformedBy string          `json:"performedBy,omitempty"`
	PerformedAt time.Time       `json:"performedAt"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
}

// AuditSink receives audit entries. Recording is fire-and-forget from
// the engine's perspective: a failing sink is logged, never propagated,
// and never blocks or rolls back the transition that produced the entry.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry)
}

// Audit actions emitted by the engine.
const (
	AuditActionFlagCreated  = "flag.created"
	AuditActionFlagUpdated  = "flag.updated"
	AuditActionFlagReviewed = "flag.reviewed"
)
