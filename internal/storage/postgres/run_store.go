package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// RunStore implements inspection.RunStore using Postgres.
type RunStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewRunStore wraps db. An empty table defaults to "ingest_runs".
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "ingest_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{db: db, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	counters      JSONB NOT NULL DEFAULT '{}',
	submitted_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ
);`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure run schema: %w", err)
	}
	return nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run inspection.Run) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, error_message, counters, submitted_at)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	if _, err := s.db.Exec(ctx, query, run.ID, string(run.Status), run.Error, counters, run.SubmittedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun records a status transition. started_at is set on the first
// running transition and finished_at on terminal ones.
func (s *RunStore) UpdateRun(
	ctx context.Context,
	id string,
	status inspection.RunStatus,
	errText string,
	counters inspection.RunCounters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := s.now()
	var started, finished *time.Time
	if status == inspection.RunRunning {
		started = &now
	}
	if status.Terminal() {
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error_message = $2, counters = $3,
	started_at = COALESCE(started_at, $4),
	finished_at = COALESCE($5, finished_at)
WHERE id = $6`, s.table)
	res, err := s.db.Exec(ctx, query, string(status), errText, payload, started, finished, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return inspection.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (inspection.Run, error) {
	query := fmt.Sprintf(`
SELECT id, status, error_message, counters, submitted_at, started_at, finished_at
FROM %s
WHERE id = $1`, s.table)

	var (
		run      inspection.Run
		status   string
		counters []byte
		started  pgtype.Timestamptz
		finished pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&status,
		&run.Error,
		&counters,
		&run.SubmittedAt,
		&started,
		&finished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inspection.Run{}, inspection.ErrNotFound
		}
		return inspection.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = inspection.RunStatus(status)
	if started.Valid {
		t := started.Time
		run.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return inspection.Run{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return run, nil
}
