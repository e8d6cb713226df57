package cachetier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS cache_names (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_name TEXT NOT NULL,
	request_key TEXT NOT NULL,
	snapshot BLOB NOT NULL,
	PRIMARY KEY (cache_name, request_key)
);`

type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage keeps caches in a SQLite file so they survive restarts.
func NewSQLiteStorage(path string) (Storage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", sqliteCacheSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare cache database: %w", err)
		}
	}
	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Cache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO cache_names (name) VALUES (?)`, name); err != nil {
		return nil, err
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_names WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_names WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_names ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (c *sqliteCache) Match(ctx context.Context, key string) (Snapshot, bool, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT snapshot FROM cache_entries WHERE cache_name = ? AND request_key = ?`, c.name, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return snap, true, nil
}

func (c *sqliteCache) Put(ctx context.Context, key string, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, request_key, snapshot) VALUES (?, ?, ?)
		ON CONFLICT (cache_name, request_key) DO UPDATE SET snapshot = excluded.snapshot`,
		c.name, key, payload)
	return err
}

func (c *sqliteCache) Delete(ctx context.Context, key string) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND request_key = ?`, c.name, key)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT request_key FROM cache_entries WHERE cache_name = ? ORDER BY request_key`, c.name)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
