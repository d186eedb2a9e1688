package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type Config struct {
	Path string
}

// Open opens the sqlite database at cfg.Path and applies any pending
// migrations. ":memory:" opens a private in-memory database.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type Migration struct {
	Version string
	SQL     string
}

var migrations = []Migration{
	{
		Version: "001_print_jobs",
		SQL: `
			CREATE TABLE print_jobs (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				device_name TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				pages INTEGER NOT NULL DEFAULT 0,
				copies INTEGER NOT NULL DEFAULT 1,
				density INTEGER NOT NULL DEFAULT 0,
				media_type INTEGER NOT NULL DEFAULT 0,
				mode INTEGER NOT NULL DEFAULT 0,
				multiple REAL NOT NULL DEFAULT 0,
				current_page INTEGER NOT NULL DEFAULT 0,
				current_copy INTEGER NOT NULL DEFAULT 0,
				error_code INTEGER,
				error_state INTEGER,
				error_message TEXT NOT NULL DEFAULT '',
				note TEXT NOT NULL DEFAULT '',
				submitted_by TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				started_at DATETIME,
				completed_at DATETIME
			);
			CREATE INDEX idx_print_jobs_status ON print_jobs (status, created_at);
		`,
	},
	{
		Version: "002_label_templates",
		SQL: `
			CREATE TABLE label_templates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				schema_json TEXT NOT NULL,
				width_mm REAL NOT NULL,
				height_mm REAL NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version: "003_settings",
		SQL: `
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version: "004_audit_log",
		SQL: `
			CREATE TABLE audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				action TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL DEFAULT '',
				details_json TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query(GetAppliedMigrations)
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
	}

	return nil
}
