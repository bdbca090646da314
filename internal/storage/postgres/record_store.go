// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	RunTable        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool used by the stores.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Connect opens a pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RecordStore persists normalized records. Rows are append-only; unique_key is
// not constrained so duplicates can be tagged rather than rejected.
type RecordStore struct {
	db    DB
	table string
}

// NewRecordStore wraps db. An empty table defaults to "inspections".
func NewRecordStore(db DB, table string) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "inspections"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{db: db, table: table}, nil
}

// Close releases the underlying pool.
func (s *RecordStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// EnsureSchema creates the records table when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id                TEXT PRIMARY KEY,
	fei_number        BIGINT,
	record_date       TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL DEFAULT '',
	firebase_url      TEXT NOT NULL DEFAULT '',
	pdf_file_name     TEXT NOT NULL DEFAULT '',
	inspection_number TEXT NOT NULL DEFAULT '',
	content_hash      TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	cfr_number        TEXT NOT NULL DEFAULT '',
	observations      JSONB NOT NULL DEFAULT '[]',
	repeat_finding    JSONB NOT NULL DEFAULT '[]',
	unique_key        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_fei_idx ON %[1]s (fei_number);
CREATE INDEX IF NOT EXISTS %[1]s_created_idx ON %[1]s (created_at, id);`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert writes records in one transaction.
func (s *RecordStore) Upsert(ctx context.Context, records []inspection.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, fei_number, record_date, name, firebase_url, pdf_file_name, inspection_number,
	content_hash, summary, category, cfr_number, observations, repeat_finding, unique_key, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
	observations = EXCLUDED.observations,
	repeat_finding = EXCLUDED.repeat_finding,
	unique_key = EXCLUDED.unique_key`, s.table)

	return s.inTx(ctx, "upsert", len(records), func(tx pgx.Tx) error {
		for _, r := range records {
			if r.ID == "" {
				return errors.New("record id is required")
			}
			args, err := recordArgs(r)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("insert record %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// BatchDelete removes rows by ID in a single statement.
func (s *RecordStore) BatchDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return &inspection.PersistenceError{Op: "delete", Count: len(ids), Err: err}
	}
	return nil
}

// TagUniqueKeys sets unique_key for each tag in one transaction. A tag that
// matches no row rolls back the whole batch.
func (s *RecordStore) TagUniqueKeys(ctx context.Context, tags []inspection.KeyTag) error {
	if len(tags) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET unique_key = $1 WHERE id = $2`, s.table)
	return s.inTx(ctx, "tag", len(tags), func(tx pgx.Tx) error {
		for _, tag := range tags {
			res, err := tx.Exec(ctx, query, tag.UniqueKey, tag.ID)
			if err != nil {
				return fmt.Errorf("tag record %s: %w", tag.ID, err)
			}
			if res.RowsAffected() == 0 {
				return fmt.Errorf("record %q: %w", tag.ID, inspection.ErrNotFound)
			}
		}
		return nil
	})
}

// recordDateExpr converts record_date to a date, or NULL when the text is in
// neither accepted layout. The CASE keeps to_date away from malformed rows.
const recordDateExpr = `CASE
	WHEN record_date ~ '^(0?[1-9]|1[0-2])/(0?[1-9]|[12][0-9]|3[01])/[0-9]{4}$' THEN to_date(record_date, 'MM/DD/YYYY')
	WHEN record_date ~ '^[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])$' THEN to_date(record_date, 'YYYY-MM-DD')
END`

// ListByDateRange returns records dated within [start, end]. Dates use
// MM/DD/YYYY or YYYY-MM-DD, matching inspection.ParseRecordDate.
func (s *RecordStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]inspection.NormalizedRecord, error) {
	where := `WHERE (` + recordDateExpr + `) BETWEEN $1::date AND $2::date`
	return s.list(ctx, where, start, end)
}

// ListBySourceIDs returns records whose fei_number is in ids.
func (s *RecordStore) ListBySourceIDs(ctx context.Context, ids []int64) ([]inspection.NormalizedRecord, error) {
	if len(ids) == 0 {
		return []inspection.NormalizedRecord{}, nil
	}
	return s.list(ctx, `WHERE fei_number = ANY($1)`, ids)
}

// ListAll returns every record.
func (s *RecordStore) ListAll(ctx context.Context) ([]inspection.NormalizedRecord, error) {
	return s.list(ctx, "")
}

func (s *RecordStore) list(ctx context.Context, where string, args ...any) ([]inspection.NormalizedRecord, error) {
	query := fmt.Sprintf(`
SELECT id, fei_number, record_date, name, firebase_url, pdf_file_name, inspection_number,
	content_hash, summary, category, cfr_number, observations, repeat_finding, unique_key, created_at
FROM %s
%s
ORDER BY created_at, id`, s.table, where)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []inspection.NormalizedRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *RecordStore) inTx(ctx context.Context, op string, count int, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &inspection.PersistenceError{Op: op, Count: count, Err: fmt.Errorf("begin: %w", err)}
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return &inspection.PersistenceError{Op: op, Count: count, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &inspection.PersistenceError{Op: op, Count: count, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func recordArgs(r inspection.NormalizedRecord) ([]any, error) {
	observations := r.Observations
	if observations == nil {
		observations = []inspection.Observation{}
	}
	obsJSON, err := json.Marshal(observations)
	if err != nil {
		return nil, fmt.Errorf("marshal observations: %w", err)
	}
	repeats := r.RepeatFindings
	if repeats == nil {
		repeats = []string{}
	}
	repeatJSON, err := json.Marshal(repeats)
	if err != nil {
		return nil, fmt.Errorf("marshal repeat findings: %w", err)
	}
	return []any{
		r.ID,
		r.SourceID,
		r.Date,
		r.Name,
		r.DocumentURL,
		r.PDFFileName,
		r.InspectionNumber,
		r.ContentHash,
		r.Summary,
		r.Category,
		r.CFRNumber,
		obsJSON,
		repeatJSON,
		r.UniqueKey,
		r.CreatedAt,
	}, nil
}

func scanRecord(rows pgx.Rows) (inspection.NormalizedRecord, error) {
	var (
		r          inspection.NormalizedRecord
		fei        pgtype.Int8
		obsJSON    []byte
		repeatJSON []byte
	)
	err := rows.Scan(
		&r.ID,
		&fei,
		&r.Date,
		&r.Name,
		&r.DocumentURL,
		&r.PDFFileName,
		&r.InspectionNumber,
		&r.ContentHash,
		&r.Summary,
		&r.Category,
		&r.CFRNumber,
		&obsJSON,
		&repeatJSON,
		&r.UniqueKey,
		&r.CreatedAt,
	)
	if err != nil {
		return inspection.NormalizedRecord{}, fmt.Errorf("scan record: %w", err)
	}
	if fei.Valid {
		r.SourceID = inspection.Int64(fei.Int64)
	}
	r.Observations = []inspection.Observation{}
	if len(obsJSON) > 0 {
		if err := json.Unmarshal(obsJSON, &r.Observations); err != nil {
			return inspection.NormalizedRecord{}, fmt.Errorf("decode observations for %s: %w", r.ID, err)
		}
	}
	r.RepeatFindings = []string{}
	if len(repeatJSON) > 0 {
		if err := json.Unmarshal(repeatJSON, &r.RepeatFindings); err != nil {
			return inspection.NormalizedRecord{}, fmt.Errorf("decode repeat findings for %s: %w", r.ID, err)
		}
	}
	return r, nil
}
