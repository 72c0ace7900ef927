// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("write conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const learnerColumns = `id, national_id, alternate_id, passport_number,
	   first_name, last_name, date_of_birth, phone, email,
	   affiliation_code, created_at, updated_at`

// ListLearners retrieves the full learner population.
func (r *SQLRepository) ListLearners(ctx context.Context) ([]*domain.LearnerIdentity, error) {
	query := `
		SELECT ` + learnerColumns + `
		FROM learners
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLearners(rows)
}

// ListLearnersChangedSince retrieves learners updated at or after a
// watermark, for incremental scans.
func (r *SQLRepository) ListLearnersChangedSince(ctx context.Context, since time.Time) ([]*domain.LearnerIdentity, error) {
	query := `
		SELECT ` + learnerColumns + `
		FROM learners
		WHERE updated_at >= ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLearners(rows)
}

// GetLearner retrieves a learner by ID.
func (r *SQLRepository) GetLearner(ctx context.Context, learnerID string) (*domain.LearnerIdentity, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("%w: learnerID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + learnerColumns + `
		FROM learners
		WHERE id = ?
	`

	l, err := scanLearner(r.db.QueryRowContext(ctx, r.rebind(query), learnerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// SaveLearner upserts a learner identity record.
func (r *SQLRepository) SaveLearner(ctx context.Context, l *domain.LearnerIdentity) error {
	if l.ID == "" {
		return fmt.Errorf("%w: learner id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO learners (
			id, national_id, alternate_id, passport_number,
			first_name, last_name, date_of_birth, phone, email,
			affiliation_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			national_id = excluded.national_id,
			alternate_id = excluded.alternate_id,
			passport_number = excluded.passport_number,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			date_of_birth = excluded.date_of_birth,
			phone = excluded.phone,
			email = excluded.email,
			affiliation_code = excluded.affiliation_code,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		l.ID, l.NationalID, l.AlternateID, l.PassportNumber,
		l.FirstName, l.LastName, nullTime(l.DateOfBirth), l.Phone, l.Email,
		l.AffiliationCode, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

// ListMatchRules retrieves all enabled match rules ordered by priority.
func (r *SQLRepository) ListMatchRules(ctx context.Context) ([]*domain.MatchRule, error) {
	query := `
		SELECT id, name, description, match_type, weight, priority,
			   min_confidence, filter, enabled, created_at, updated_at
		FROM match_rules
		WHERE enabled = 1
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.MatchRule
	for rows.Next() {
		var rule domain.MatchRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Type,
			&rule.Weight, &rule.Priority, &rule.MinConfidence,
			&rule.Filter, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveMatchRule upserts a match rule configuration.
func (r *SQLRepository) SaveMatchRule(ctx context.Context, rule *domain.MatchRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO match_rules (
			id, name, description, match_type, weight, priority,
			min_confidence, filter, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			match_type = excluded.match_type,
			weight = excluded.weight,
			priority = excluded.priority,
			min_confidence = excluded.min_confidence,
			filter = excluded.filter,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Type,
		rule.Weight, rule.Priority, rule.MinConfidence,
		rule.Filter, enabled, now, now,
	)
	return err
}

const flagColumns = `id, learner_id, duplicate_learner_id, primary_type,
	   confidence, match_details, status, reviewed_by, reviewed_at,
	   resolved_at, notes, created_at, updated_at, version`

// FindOpenFlag retrieves the non-resolved flag for an unordered pair,
// if one exists. Confirmed and FalsePositive flags are returned too;
// the caller decides whether a sticky review blocks the update.
func (r *SQLRepository) FindOpenFlag(ctx context.Context, learnerID, duplicateLearnerID string) (*domain.DuplicationFlag, error) {
	query := `
		SELECT ` + flagColumns + `
		FROM duplication_flags
		WHERE pair_key = ? AND status != ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	flag, err := scanFlag(r.db.QueryRowContext(ctx, r.rebind(query),
		domain.PairKey(learnerID, duplicateLearnerID), domain.StatusResolved))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// GetFlag retrieves a flag by ID.
func (r *SQLRepository) GetFlag(ctx context.Context, flagID string) (*domain.DuplicationFlag, error) {
	if flagID == "" {
		return nil, fmt.Errorf("%w: flagID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + flagColumns + `
		FROM duplication_flags
		WHERE id = ?
	`

	flag, err := scanFlag(r.db.QueryRowContext(ctx, r.rebind(query), flagID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// CreateFlag inserts a new flag at version 1.
func (r *SQLRepository) CreateFlag(ctx context.Context, flag *domain.DuplicationFlag) error {
	if flag.ID == "" {
		return fmt.Errorf("%w: flag id is required", ErrInvalidInput)
	}

	details, _ := json.Marshal(flag.Details)

	query := `
		INSERT INTO duplication_flags (
			id, learner_id, duplicate_learner_id, pair_key, primary_type,
			confidence, match_details, status, reviewed_by, reviewed_at,
			resolved_at, notes, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		flag.ID, flag.LearnerID, flag.DuplicateLearnerID, flag.PairKey(),
		flag.PrimaryType, flag.Confidence, string(details), flag.Status,
		flag.ReviewedBy, nullTime(flag.ReviewedAt), nullTime(flag.ResolvedAt),
		flag.Notes, flag.CreatedAt, flag.UpdatedAt,
	)
	if err != nil {
		return err
	}

	flag.Version = 1
	return nil
}

// UpdateFlag writes a flag back under optimistic concurrency. The write
// only lands when the stored version matches the version the caller
// read; a mismatch returns ErrConflict so the caller can re-read.
func (r *SQLRepository) UpdateFlag(ctx context.Context, flag *domain.DuplicationFlag) error {
	if flag.ID == "" {
		return fmt.Errorf("%w: flag id is required", ErrInvalidInput)
	}

	details, _ := json.Marshal(flag.Details)

	query := `
		UPDATE duplication_flags
		SET primary_type = ?, confidence = ?, match_details = ?,
			status = ?, reviewed_by = ?, reviewed_at = ?,
			resolved_at = ?, notes = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		flag.PrimaryType, flag.Confidence, string(details),
		flag.Status, flag.ReviewedBy, nullTime(flag.ReviewedAt),
		nullTime(flag.ResolvedAt), flag.Notes, flag.UpdatedAt,
		flag.ID, flag.Version,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing flag from a stale version.
		if _, err := r.GetFlag(ctx, flag.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}

	flag.Version++
	return nil
}

// ListFlagsByStatus retrieves flags in any of the given statuses,
// newest first.
func (r *SQLRepository) ListFlagsByStatus(ctx context.Context, statuses ...domain.FlagStatus) ([]*domain.DuplicationFlag, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("%w: at least one status is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + flagColumns + `
		FROM duplication_flags
		WHERE status IN (`
	args := make([]any, 0, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, s)
	}
	query += `)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFlags(rows)
}

// ListFlagsByLearner retrieves every flag involving a learner, on
// either side of the pair, newest first.
func (r *SQLRepository) ListFlagsByLearner(ctx context.Context, learnerID string) ([]*domain.DuplicationFlag, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("%w: learnerID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + flagColumns + `
		FROM duplication_flags
		WHERE learner_id = ? OR duplicate_learner_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), learnerID, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFlags(rows)
}

// SaveScanReport upserts a scan report.
func (r *SQLRepository) SaveScanReport(ctx context.Context, report *domain.ScanReport) error {
	if report.ID == "" {
		return fmt.Errorf("%w: scan id is required", ErrInvalidInput)
	}

	scanErrors, _ := json.Marshal(report.Errors)

	incremental := 0
	if report.Incremental {
		incremental = 1
	}

	query := `
		INSERT INTO scan_reports (
			id, population, status, incremental, since,
			learners_scanned, pairs_evaluated, flags_created, flags_updated,
			errors, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			learners_scanned = excluded.learners_scanned,
			pairs_evaluated = excluded.pairs_evaluated,
			flags_created = excluded.flags_created,
			flags_updated = excluded.flags_updated,
			errors = excluded.errors,
			finished_at = excluded.finished_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, report.Population, report.Status, incremental,
		nullTime(report.Since), report.LearnersScanned, report.PairsEvaluated,
		report.FlagsCreated, report.FlagsUpdated, string(scanErrors),
		report.StartedAt, nullTime(report.FinishedAt),
	)
	return err
}

// GetScanReport retrieves a scan report by ID.
func (r *SQLRepository) GetScanReport(ctx context.Context, scanID string) (*domain.ScanReport, error) {
	if scanID == "" {
		return nil, fmt.Errorf("%w: scanID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, population, status, incremental, since,
			   learners_scanned, pairs_evaluated, flags_created, flags_updated,
			   errors, started_at, finished_at
		FROM scan_reports
		WHERE id = ?
	`

	var report domain.ScanReport
	var incremental int
	var since, finishedAt sql.NullTime
	var scanErrors string

	err := r.db.QueryRowContext(ctx, r.rebind(query), scanID).Scan(
		&report.ID, &report.Population, &report.Status, &incremental, &since,
		&report.LearnersScanned, &report.PairsEvaluated,
		&report.FlagsCreated, &report.FlagsUpdated,
		&scanErrors, &report.StartedAt, &finishedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	report.Incremental = incremental == 1
	if since.Valid {
		t := since.Time
		report.Since = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		report.FinishedAt = &t
	}
	if scanErrors != "" {
		json.Unmarshal([]byte(scanErrors), &report.Errors)
	}

	return &report, nil
}

// AppendAudit stores one audit entry. The log is append-only; there is
// no update or delete path.
func (r *SQLRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: audit entry id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO audit_logs (
			id, entity_name, entity_id, action,
			performed_by, performed_at, before_values, after_values
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.EntityName, entry.EntityID, entry.Action,
		entry.PerformedBy, entry.PerformedAt,
		string(entry.Before), string(entry.After),
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearner(row rowScanner) (*domain.LearnerIdentity, error) {
	var l domain.LearnerIdentity
	var dob sql.NullTime

	err := row.Scan(
		&l.ID, &l.NationalID, &l.AlternateID, &l.PassportNumber,
		&l.FirstName, &l.LastName, &dob, &l.Phone, &l.Email,
		&l.AffiliationCode, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dob.Valid {
		t := dob.Time
		l.DateOfBirth = &t
	}
	return &l, nil
}

func scanLearners(rows *sql.Rows) ([]*domain.LearnerIdentity, error) {
	var learners []*domain.LearnerIdentity
	for rows.Next() {
		l, err := scanLearner(rows)
		if err != nil {
			return nil, err
		}
		learners = append(learners, l)
	}
	return learners, rows.Err()
}

func scanFlag(row rowScanner) (*domain.DuplicationFlag, error) {
	var f domain.DuplicationFlag
	var details string
	var reviewedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&f.ID, &f.LearnerID, &f.DuplicateLearnerID, &f.PrimaryType,
		&f.Confidence, &details, &f.Status, &f.ReviewedBy, &reviewedAt,
		&resolvedAt, &f.Notes, &f.CreatedAt, &f.UpdatedAt, &f.Version,
	)
	if err != nil {
		return nil, err
	}

	if reviewedAt.Valid {
		t := reviewedAt.Time
		f.ReviewedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	if details != "" {
		json.Unmarshal([]byte(details), &f.Details)
	}
	return &f, nil
}

func scanFlags(rows *sql.Rows) ([]*domain.DuplicationFlag, error) {
	var flags []*domain.DuplicationFlag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
