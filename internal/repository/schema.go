package repository

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaLearners = `
CREATE TABLE IF NOT EXISTS learners (
    id TEXT PRIMARY KEY,
    national_id TEXT NOT NULL,
    alternate_id TEXT,
    passport_number TEXT,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    date_of_birth TIMESTAMP,
    phone TEXT,
    email TEXT,
    affiliation_code TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learners_national_id ON learners(national_id);
CREATE INDEX IF NOT EXISTS idx_learners_updated ON learners(updated_at);
`

const schemaMatchRules = `
CREATE TABLE IF NOT EXISTS match_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    match_type TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    priority INTEGER NOT NULL DEFAULT 100,
    min_confidence REAL NOT NULL DEFAULT 0,
    filter TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_rules_enabled ON match_rules(enabled);
`

// pair_key stores the canonical unordered key so the open-flag lookup
// and its index do not depend on which side a scan saw first.
const schemaDuplicationFlags = `
CREATE TABLE IF NOT EXISTS duplication_flags (
    id TEXT PRIMARY KEY,
    learner_id TEXT NOT NULL,
    duplicate_learner_id TEXT,
    pair_key TEXT NOT NULL,
    primary_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    match_details TEXT NOT NULL,
    status TEXT NOT NULL,
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    resolved_at TIMESTAMP,
    notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_flags_learner ON duplication_flags(learner_id);
CREATE INDEX IF NOT EXISTS idx_flags_duplicate ON duplication_flags(duplicate_learner_id);
CREATE INDEX IF NOT EXISTS idx_flags_status ON duplication_flags(status);
CREATE INDEX IF NOT EXISTS idx_flags_pair ON duplication_flags(pair_key, status);
`

const schemaScanReports = `
CREATE TABLE IF NOT EXISTS scan_reports (
    id TEXT PRIMARY KEY,
    population TEXT NOT NULL,
    status TEXT NOT NULL,
    incremental INTEGER NOT NULL DEFAULT 0,
    since TIMESTAMP,
    learners_scanned INTEGER NOT NULL DEFAULT 0,
    pairs_evaluated INTEGER NOT NULL DEFAULT 0,
    flags_created INTEGER NOT NULL DEFAULT 0,
    flags_updated INTEGER NOT NULL DEFAULT 0,
    errors TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_scans_population ON scan_reports(population, started_at);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id TEXT PRIMARY KEY,
    entity_name TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    performed_by TEXT,
    performed_at TIMESTAMP NOT NULL,
    before_values TEXT,
    after_values TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_performed ON audit_logs(performed_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLearners,
		schemaMatchRules,
		schemaDuplicationFlags,
		schemaScanReports,
		schemaAuditLogs,
	}
}
