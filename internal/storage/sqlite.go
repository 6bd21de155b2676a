package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	db.SetMaxOpenConns(1)

	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			agent_id         TEXT,
			title            TEXT NOT NULL,
			last_response_id TEXT,
			updated_at       TEXT NOT NULL,
			created_at       TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			annotations     JSON,
			created_at      TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			model        TEXT NOT NULL,
			instructions TEXT NOT NULL,
			description  TEXT,
			metadata     JSON,
			temperature  REAL,
			top_p        REAL,
			created_at   TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			tool_name       TEXT NOT NULL,
			server_label    TEXT NOT NULL,
			arguments       TEXT NOT NULL,
			tool_call_id    TEXT NOT NULL,
			transcript      JSON NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			resolved_at     TEXT,
			created_at      TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
