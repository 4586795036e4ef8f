package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN. SQLite serializes writers,
// so the pool is capped at one connection and transactions queue in Go.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return db, nil
}

// Migrate creates the conversation schema. Statements are idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// One row per unordered participant pair; a_id sorts before b_id.
		`CREATE TABLE IF NOT EXISTS conversations (
			id          TEXT PRIMARY KEY,
			pair_key    TEXT UNIQUE NOT NULL,
			a_id        TEXT NOT NULL,
			a_role      TEXT NOT NULL,
			a_unread    INTEGER NOT NULL DEFAULT 0,
			b_id        TEXT NOT NULL,
			b_role      TEXT NOT NULL,
			b_unread    INTEGER NOT NULL DEFAULT 0,
			last_text   TEXT DEFAULT NULL,
			last_sender TEXT DEFAULT NULL,
			last_at     DATETIME DEFAULT NULL,
			next_seq    INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			sender_id       TEXT NOT NULL,
			sender_role     TEXT NOT NULL,
			receiver_id     TEXT NOT NULL,
			receiver_role   TEXT NOT NULL,
			text            TEXT NOT NULL,
			is_read         BOOLEAN NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			UNIQUE (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(a_id);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(b_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, receiver_id, is_read);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
