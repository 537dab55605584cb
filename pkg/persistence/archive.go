// Package persistence provides the SQLite archive of research runs. The JSON
// experience pool is the live, prompt-facing store; the archive is the durable
// history across process restarts: which runs happened, how each iteration
// went, and which hypotheses were merged.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"iterdesign/pkg/logx"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// Archive wraps one SQLite database holding the run history.
type Archive struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the archive database at dbPath and brings
// the schema up to date.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("📦 Run archive opened: %s", dbPath)

	return &Archive{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// migrate ensures the schema is at the current version.
func migrate(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version == 0 {
		return createSchema(db)
	}
	return fmt.Errorf("unknown schema version: %d", version)
}

func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// One row per invocation of the research loop.
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			repo_path TEXT NOT NULL,
			model TEXT NOT NULL,
			agent_count INTEGER NOT NULL,
			max_iterations INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0,
			report_path TEXT
		)`,

		// One row per orchestrator iteration, including the winning
		// hypothesis when one was merged.
		`CREATE TABLE IF NOT EXISTS iterations (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			number INTEGER NOT NULL,
			snapshot TEXT,
			results_total INTEGER NOT NULL DEFAULT 0,
			results_accepted INTEGER NOT NULL DEFAULT 0,
			winner_agent TEXT,
			winner_hypothesis_id TEXT,
			winner_hypothesis TEXT,
			winner_confidence REAL,
			applied INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, number)
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)",
		"CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)",
		CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
