// Package domain defines the core types and interfaces for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the persistence boundary of the detection engine:
// the learner read source, the flag store, rule loading, scan reports
// and the append-only audit log.
type Repository interface {
	// Learner source (read side; SaveLearner exists for seeding and tests)
	ListLearners(ctx context.Context) ([]*LearnerIdentity, error)
	ListLearnersChangedSince(ctx context.Context, since time.Time) ([]*LearnerIdentity, error)
	GetLearner(ctx context.Context, learnerID string) (*LearnerIdentity, error)
	SaveLearner(ctx context.Context, learner *LearnerIdentity) error

	// Match rule configuration, loaded read-only per scan
	ListMatchRules(ctx context.Context) ([]*MatchRule, error)
	SaveMatchRule(ctx context.Context, rule *MatchRule) error

	// Flag store. FindOpenFlag treats the pair as unordered and only
	// returns flags in a non-terminal status. UpdateFlag is atomic per
	// flag id via a version check.
	FindOpenFlag(ctx context.Context, learnerID, duplicateLearnerID string) (*DuplicationFlag, error)
	GetFlag(ctx context.Context, flagID string) (*DuplicationFlag, error)
	CreateFlag(ctx context.Context, flag *DuplicationFlag) error
	UpdateFlag(ctx context.Context, flag *DuplicationFlag) error
	ListFlagsByStatus(ctx context.Context, statuses ...FlagStatus) ([]*DuplicationFlag, error)
	ListFlagsByLearner(ctx context.Context, learnerID string) ([]*DuplicationFlag, error)

	// Scan reports
	SaveScanReport(ctx context.Context, report *ScanReport) error
	GetScanReport(ctx context.Context, scanID string) (*ScanReport, error)

	// Append-only audit log
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
