package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/learnersafe/heron/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas tunes the file for the engine's workload: long review
// reads concurrent with bursts of flag writes from scan workers. WAL
// keeps readers off the writer's lock and the busy timeout absorbs
// writer contention instead of surfacing SQLITE_BUSY mid-scan.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(10000)",
	"foreign_keys(ON)",
	"cache_size(-20000)",
}

// openSQLite opens the SQLite database, creating the parent directory
// and the file as needed. Pure Go driver, no CGO.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./heron.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=" + strings.Join(sqlitePragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite has a single writer regardless of pool size. One
	// connection serializes the scan workers' flag upserts at the pool
	// instead of bouncing them off the file lock; config can override.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}
