package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/learnersafe/heron/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a pooled PostgreSQL connection.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "heron"
	}
	sslMode := cfg.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	params := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + dbname,
		"sslmode=" + sslMode,
		"connect_timeout=5",
	}
	if cfg.PostgresUser != "" {
		params = append(params, "user="+cfg.PostgresUser)
	}
	if cfg.PostgresPassword != "" {
		params = append(params, "password="+cfg.PostgresPassword)
	}

	db, err := sql.Open("postgres", strings.Join(params, " "))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// Sized for one scan's worker pool plus API traffic; config can
	// override. Recycling connections keeps a long-lived engine from
	// pinning stale ones across server-side restarts.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}
