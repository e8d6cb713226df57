package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema version tracking:
// 1 - activities table with the by-date index
// 2 - created_at index for ordered drains
var sqliteMigrations = []func(*sql.Tx) error{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS activities (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				student_name TEXT NOT NULL,
				activity TEXT NOT NULL,
				date TEXT NOT NULL,
				hours INTEGER NOT NULL,
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_activities_by_date ON activities(date);`)
		return err
	},
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at)`)
		return err
	},
}

type sqliteStore struct {
	db      *sql.DB
	version int
	nowFunc func() time.Time
}

// NewSQLiteStore opens or creates the record database at path. Opening an
// already migrated database is a no-op.
func NewSQLiteStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open record database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect record database: %w", err)
	}
	// single writer avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	version, err := migrateSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, version: version, nowFunc: time.Now}, nil
}

func migrateSQLite(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	for version < len(sqliteMigrations) {
		tx, err := db.Begin()
		if err != nil {
			return version, err
		}
		if err := sqliteMigrations[version](tx); err != nil {
			_ = tx.Rollback()
			return version, fmt.Errorf("migrate to v%d: %w", version+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			_ = tx.Rollback()
			return version, fmt.Errorf("set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return version, err
		}
		version++
	}
	return version, nil
}

func (s *sqliteStore) Add(ctx context.Context, draft Draft) (Record, error) {
	rec, err := newRecord(draft, s.nowFunc())
	if err != nil {
		return Record{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (student_name, activity, date, hours, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.StudentName, rec.Activity, rec.Date, rec.Hours, rec.CreatedAt.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, student_name, activity, date, hours, created_at FROM activities WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	return rec, err
}

func (s *sqliteStore) GetAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_name, activity, date, hours, created_at FROM activities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *sqliteStore) ListByDate(ctx context.Context, date string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_name, activity, date, hours, created_at FROM activities WHERE date = ? ORDER BY id`, date)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	if err := validID(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&n)
	return n, err
}

func (s *sqliteStore) SchemaVersion() int {
	return s.version
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.StudentName, &rec.Activity, &rec.Date, &rec.Hours, &createdAt); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
