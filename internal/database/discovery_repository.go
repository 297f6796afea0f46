package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// DiscoveryRepository handles discovery job persistence.
type DiscoveryRepository struct {
	db *sqlx.DB
}

// NewDiscoveryRepository creates a new discovery repository.
func NewDiscoveryRepository(db *sqlx.DB) *DiscoveryRepository {
	return &DiscoveryRepository{db: db}
}

const discoveryColumns = `id, municipality, lat, lng, batch_id, status, priority,
       attempts, sources_found, sources_added, created_at, completed_at`

// ClaimNext claims the highest-priority pending discovery job, optionally
// scoped to a batch. Returns domain.ErrNotFound when none is pending.
func (r *DiscoveryRepository) ClaimNext(ctx context.Context, batchID string) (*domain.DiscoveryJob, error) {
	query := `
		WITH next AS (
			SELECT id
			FROM discovery_jobs
			WHERE status = 'pending'
			  AND ($1 = '' OR batch_id = $1)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE discovery_jobs d
		SET status = 'processing', attempts = d.attempts + 1
		FROM next
		WHERE d.id = next.id
		RETURNING d.id, d.municipality, d.lat, d.lng, d.batch_id, d.status,
		          d.priority, d.attempts, d.sources_found, d.sources_added,
		          d.created_at, d.completed_at
	`

	var job domain.DiscoveryJob
	if err := r.db.GetContext(ctx, &job, query, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim discovery job: %w", err)
	}
	return &job, nil
}

// Complete marks a discovery job completed with its result counts.
func (r *DiscoveryRepository) Complete(ctx context.Context, id string, found, added int) error {
	query := `
		UPDATE discovery_jobs
		SET status = 'completed',
		    sources_found = $2,
		    sources_added = $3,
		    completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.ExecContext(ctx, query, id, found, added)
	if err != nil {
		return fmt.Errorf("failed to complete discovery job: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Fail marks a discovery job failed.
func (r *DiscoveryRepository) Fail(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE discovery_jobs SET status = 'failed', completed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to fail discovery job: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountPending returns the number of pending discovery jobs, optionally
// scoped to a batch.
func (r *DiscoveryRepository) CountPending(ctx context.Context, batchID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM discovery_jobs WHERE status = 'pending' AND ($1 = '' OR batch_id = $1)`,
		batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending discovery jobs: %w", err)
	}
	return count, nil
}

// Enqueue inserts a new discovery job.
func (r *DiscoveryRepository) Enqueue(ctx context.Context, job *domain.DiscoveryJob) error {
	query := `
		INSERT INTO discovery_jobs (municipality, lat, lng, batch_id, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		job.Municipality, job.Lat, job.Lng, job.BatchID, job.Priority,
	).Scan(&job.ID, &job.Status, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue discovery job: %w", err)
	}
	return nil
}
