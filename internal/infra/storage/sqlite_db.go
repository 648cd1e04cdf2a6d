package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitSQLite opens the local SQLite database and creates the journal schema.
func InitSQLite(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db, sqliteSchemas); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

var sqliteSchemas = []string{
	`CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		recorded_at DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		payload TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session_id, seq);`,
	`CREATE INDEX IF NOT EXISTS idx_journal_target ON journal(target_id);`,
	`CREATE INDEX IF NOT EXISTS idx_journal_type ON journal(event_type);`,
}

func createSchemas(db *sql.DB, schemas []string) error {
	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}
