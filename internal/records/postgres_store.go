package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresRecordTableName  = "offlinesync_activities"
	postgresMetaTableName    = "offlinesync_schema"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore connects lazily: the first operation opens the pool and creates
// the tables.
type PostgresStore struct {
	dsn       string
	tableName string
	metaTable string
	openDB    sqlOpenFunc
	nowFunc   func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
	version  int
}

func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresRecordTableName,
		metaTable: postgresMetaTableName,
		openDB:    sql.Open,
		nowFunc:   time.Now,
	}, nil
}

func (s *PostgresStore) Add(ctx context.Context, draft Draft) (Record, error) {
	rec, err := newRecord(draft, s.nowFunc())
	if err != nil {
		return Record{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (student_name, activity, date, hours, created_at_ns)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, postgresQuoteIdentifier(s.tableName))
	if err := s.db.QueryRowContext(ctx, query,
		rec.StudentName, rec.Activity, rec.Date, rec.Hours, rec.CreatedAt.UnixNano()).Scan(&rec.ID); err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Record, error) {
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, student_name, activity, date, hours, created_at_ns FROM %s WHERE id = $1`,
		postgresQuoteIdentifier(s.tableName))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	return rec, err
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]Record, error) {
	return s.list(ctx, "", nil)
}

func (s *PostgresStore) ListByDate(ctx context.Context, date string) ([]Record, error) {
	return s.list(ctx, "WHERE date = $1", []any{date})
}

func (s *PostgresStore) list(ctx context.Context, where string, args []any) ([]Record, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, student_name, activity, date, hours, created_at_ns FROM %s %s ORDER BY id`,
		postgresQuoteIdentifier(s.tableName), where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, postgresQuoteIdentifier(s.tableName))
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (s *PostgresStore) SchemaVersion() int {
	if err := s.ensureReady(); err != nil {
		return 0
	}
	return s.version
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id BIGSERIAL PRIMARY KEY,
					student_name TEXT NOT NULL,
					activity TEXT NOT NULL,
					date TEXT NOT NULL,
					hours INTEGER NOT NULL,
					created_at_ns BIGINT NOT NULL
				)`, postgresQuoteIdentifier(s.tableName)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (date)`,
				postgresQuoteIdentifier(s.tableName+"_by_date"), postgresQuoteIdentifier(s.tableName)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at_ns)`,
				postgresQuoteIdentifier(s.tableName+"_created_at"), postgresQuoteIdentifier(s.tableName)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					singleton BOOLEAN PRIMARY KEY DEFAULT TRUE,
					version INTEGER NOT NULL
				)`, postgresQuoteIdentifier(s.metaTable)),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		// never lower a version written by a newer binary
		upsert := fmt.Sprintf(`
			INSERT INTO %s (singleton, version) VALUES (TRUE, $1)
			ON CONFLICT (singleton)
			DO UPDATE SET version = GREATEST(%s.version, EXCLUDED.version)
			RETURNING version`, postgresQuoteIdentifier(s.metaTable), postgresQuoteIdentifier(s.metaTable))
		if err := db.QueryRowContext(ctx, upsert, CurrentSchemaVersion).Scan(&s.version); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
