package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a single-file store for one-node deployments.
type SQLite struct {
	Client *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// database/sql would otherwise open a fresh empty database per connection
	// for ":memory:".
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS portal_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create portal_kv: %w", err)
	}
	return &SQLite{Client: db}, nil
}

// Healthy pings the database.
func (s *SQLite) Healthy(ctx context.Context) bool {
	if s == nil || s.Client == nil {
		return false
	}
	return s.Client.PingContext(ctx) == nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

type sqliteKV struct {
	db *sql.DB
}

// NewSQLiteRepository keeps collections as JSON text rows of portal_kv.
func NewSQLiteRepository(s *SQLite) Repository {
	return &collections{kv: &sqliteKV{db: s.Client}}
}

func (s *sqliteKV) get(ctx context.Context, key string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM portal_kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func (s *sqliteKV) set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(value))
	return err
}

func (s *sqliteKV) del(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM portal_kv WHERE key = ?`, key)
	return err
}
