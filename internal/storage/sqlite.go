package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteKV is the relaxed-tier store: a single key-value table in a
// SQLite database. It carries the bulk of the persisted state (the task
// set), where the strict tier's per-item limits would not fit.
type SQLiteKV struct {
	db    *sql.DB
	quota Quota
}

// NewSQLiteKV opens (or creates) the database at dbPath and runs the
// idempotent schema migration.
func NewSQLiteKV(dbPath string, quota Quota) (*SQLiteKV, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	// WAL mode for concurrent readers; SQLite allows one writer at a time.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteKV{db: db, quota: quota}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// Quota returns the tier limits.
func (s *SQLiteKV) Quota() Quota { return s.quota }

func (s *SQLiteKV) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteKV) Get(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying kv: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string, len(keys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning kv row: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

// Set upserts all items inside one transaction so a batch write is
// atomic from the caller's perspective.
func (s *SQLiteKV) Set(ctx context.Context, items map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for key, value := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		)
		if err != nil {
			return fmt.Errorf("upserting key %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing kv write: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("clearing kv: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Usage(ctx context.Context) (Usage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, LENGTH(value) FROM kv`)
	if err != nil {
		return Usage{}, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	usage := Usage{PerKey: map[string]int{}}
	for rows.Next() {
		var key string
		var valueLen int
		if err := rows.Scan(&key, &valueLen); err != nil {
			return Usage{}, fmt.Errorf("scanning usage row: %w", err)
		}
		size := len(key) + valueLen
		usage.PerKey[key] = size
		usage.Bytes += size
		usage.Items++
	}
	return usage, rows.Err()
}
