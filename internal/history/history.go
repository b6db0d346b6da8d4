// Package history persists sync run history to Postgres. It is optional:
// when no database is configured the service runs with sync.NopRecorder and
// nothing here is used.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	syncpkg "github.com/shaheenhirany/moodle-csv-user-sync/internal/sync"
)

// Store records sync runs and their outcome events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the history tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	job_id      TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ,
	phase       TEXT NOT NULL DEFAULT 'syncing',
	total_rows  INT NOT NULL,
	created     INT NOT NULL DEFAULT 0,
	unsuspended INT NOT NULL DEFAULT 0,
	noop        INT NOT NULL DEFAULT 0,
	enrolled    INT NOT NULL DEFAULT 0,
	skipped     INT NOT NULL DEFAULT 0,
	failed      INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_events (
	id         BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES sync_runs(job_id) ON DELETE CASCADE,
	row_index  INT NOT NULL,
	email      TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	course_id  INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sync_events_job ON sync_events (job_id, id);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("initialize history schema: %w", err)
	}
	return nil
}

// StartRun inserts the run header when a batch begins.
func (s *Store) StartRun(ctx context.Context, jobID string, totalRows int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (job_id, total_rows) VALUES ($1, $2)
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID, totalRows)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordEvent appends one outcome event to the run.
func (s *Store) RecordEvent(ctx context.Context, jobID string, ev syncpkg.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_events (job_id, row_index, email, action, detail, course_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		jobID, ev.RowIndex, ev.Email, string(ev.Action), ev.Detail, ev.CourseID)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// FinishRun stamps the final phase and summary counters on the run.
func (s *Store) FinishRun(ctx context.Context, jobID string, phase string, sum syncpkg.Summary) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET finished_at = now(), phase = $2,
		     created = $3, unsuspended = $4, noop = $5,
		     enrolled = $6, skipped = $7, failed = $8
		 WHERE job_id = $1`,
		jobID, phase,
		sum.Created, sum.Unsuspended, sum.NoOp,
		sum.Enrolled, sum.EnrollSkipped, sum.Failed)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Run is a persisted batch run header.
type Run struct {
	JobID      string          `json:"jobId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Phase      string          `json:"phase"`
	TotalRows  int             `json:"totalRows"`
	Summary    syncpkg.Summary `json:"summary"`
}

// RecentRuns returns up to limit of the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, started_at, finished_at, phase, total_rows,
		        created, unsuspended, noop, enrolled, skipped, failed
		 FROM sync_runs
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.JobID, &r.StartedAt, &r.FinishedAt, &r.Phase, &r.TotalRows,
			&r.Summary.Created, &r.Summary.Unsuspended, &r.Summary.NoOp,
			&r.Summary.Enrolled, &r.Summary.EnrollSkipped, &r.Summary.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Summary.Rows = r.TotalRows
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
