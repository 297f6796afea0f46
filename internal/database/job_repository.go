package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// JobRepository handles database operations for scrape jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// jobColumns is the scan list shared by job queries.
const jobColumns = `id, source_id, status, attempts, max_attempts, payload, priority,
       created_at, completed_at, events_scraped, events_inserted, error_message`

// Claim atomically claims up to limit pending jobs, transitioning them
// pending -> running and incrementing attempts. FOR UPDATE SKIP LOCKED
// guarantees each job is handed to at most one worker.
func (r *JobRepository) Claim(ctx context.Context, limit int) ([]*domain.ScrapeJob, error) {
	query := `
		WITH claimable AS (
			SELECT id
			FROM scrape_jobs
			WHERE status = 'pending'
			  AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scrape_jobs j
		SET status = 'running',
		    attempts = j.attempts + 1,
		    started_at = NOW()
		FROM claimable c
		WHERE j.id = c.id
		RETURNING j.id, j.source_id, j.status, j.attempts, j.max_attempts, j.payload,
		          j.priority, j.created_at, j.completed_at, j.events_scraped,
		          j.events_inserted, j.error_message
	`

	var jobs []*domain.ScrapeJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	if jobs == nil {
		jobs = []*domain.ScrapeJob{}
	}

	return jobs, nil
}

// Complete marks a running job completed and records its counters.
func (r *JobRepository) Complete(ctx context.Context, id string, scraped, inserted int) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'completed',
		    completed_at = NOW(),
		    events_scraped = $2,
		    events_inserted = $3,
		    error_message = NULL
		WHERE id = $1 AND status = 'running'
	`

	return r.exec(ctx, query, "complete job", id, scraped, inserted)
}

// Fail marks a running job failed with an error message.
func (r *JobRepository) Fail(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'failed',
		    completed_at = NOW(),
		    error_message = $2
		WHERE id = $1 AND status = 'running'
	`

	return r.exec(ctx, query, "fail job", id, errMsg)
}

// ResetForProxyRetry resets a job to pending with proxyRetry=true. The
// payload guard makes the reset happen at most once per job.
func (r *JobRepository) ResetForProxyRetry(ctx context.Context, id string) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'pending',
		    completed_at = NULL,
		    error_message = NULL,
		    payload = payload || '{"proxyRetry": true}'::jsonb
		WHERE id = $1
		  AND status IN ('running', 'failed')
		  AND COALESCE((payload->>'proxyRetry')::boolean, false) = false
	`

	return r.exec(ctx, query, "reset job for proxy retry", id)
}

// ReapStale moves running jobs older than the cutoff back to pending so a
// later worker invocation can recover them. Returns the number reaped.
func (r *JobRepository) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE scrape_jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'running'
		  AND started_at < NOW() - $1::interval
		  AND attempts < max_attempts
	`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", err)
	}
	return result.RowsAffected()
}

// EnqueueEntry describes one job to enqueue along with the source's next
// scheduled run.
type EnqueueEntry struct {
	SourceID     string
	Priority     int
	NextScrapeAt time.Time
}

// EnqueueBatch inserts pending jobs and advances each source's
// next_scrape_at in a single transaction, so a concurrent coordinator tick
// cannot double-enqueue the same source.
func (r *JobRepository) EnqueueBatch(ctx context.Context, entries []EnqueueEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertJob := `
		INSERT INTO scrape_jobs (source_id, status, max_attempts, payload, priority)
		SELECT $1, 'pending', $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM scrape_jobs
			WHERE source_id = $1 AND status IN ('pending', 'running')
		)
	`
	advance := `UPDATE scraper_sources SET next_scrape_at = $2, updated_at = NOW() WHERE id = $1`

	created := 0
	for _, e := range entries {
		payload := domain.JobPayload{SourceID: e.SourceID, ScheduledAt: time.Now().UTC()}
		result, execErr := tx.ExecContext(ctx, insertJob, e.SourceID, domain.DefaultMaxAttempts, payload, e.Priority)
		if execErr != nil {
			return 0, fmt.Errorf("failed to enqueue job for source %s: %w", e.SourceID, execErr)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			continue // a pending or running job already covers this source
		}
		created++

		if _, execErr = tx.ExecContext(ctx, advance, e.SourceID, e.NextScrapeAt); execErr != nil {
			return 0, fmt.Errorf("failed to advance next_scrape_at for source %s: %w", e.SourceID, execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit enqueue tx: %w", err)
	}

	return created, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ScrapeJob, error) {
	var job domain.ScrapeJob
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE id = $1`

	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// CountPending returns the number of pending jobs.
func (r *JobRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM scrape_jobs WHERE status = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

func (r *JobRepository) exec(ctx context.Context, query, op string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}
