// Package store persists canonical characters, their mythic keys and guild
// membership in an embedded SQLite database.
//
// The database runs in WAL mode so the roster endpoint can read while an
// ingest batch is being written. Foreign keys are enforced: deleting a
// character removes its keys.
//
// Schema:
//   - guild_members: which users belong to which guild
//   - characters: one row per (name, realm), optionally owned by a user and
//     parked in a guild
//   - mythic_keys: keystones per character, bag-sourced or imported
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path.
//
// The caller must call Close when done. The schema is not created; call
// InitSchema after opening a fresh database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection settings go in the DSN so every pooled connection gets
	// them; journal_mode is persistent and set once below.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection. Safe to call twice.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Best effort: a failed checkpoint leaves the WAL for the next open.
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they do not exist. It is
// idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild_members (
		user_id INTEGER NOT NULL,
		guild_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, guild_id)
	);

	CREATE TABLE IF NOT EXISTS characters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		realm TEXT NOT NULL,
		guild_id INTEGER,
		user_id INTEGER,
		is_main INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_sync TEXT,
		UNIQUE (name, realm)
	);

	CREATE TABLE IF NOT EXISTS mythic_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		character_id INTEGER NOT NULL,
		dungeon TEXT NOT NULL,
		level INTEGER NOT NULL,
		affixes TEXT NOT NULL DEFAULT '[]',  -- JSON array
		is_from_bag INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY (character_id) REFERENCES characters(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_characters_guild ON characters(guild_id);
	CREATE INDEX IF NOT EXISTS idx_characters_user ON characters(user_id);
	CREATE INDEX IF NOT EXISTS idx_guild_members_guild ON guild_members(guild_id);
	CREATE INDEX IF NOT EXISTS idx_mythic_keys_character
	    ON mythic_keys(character_id, is_from_bag);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func int64ToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullToInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
