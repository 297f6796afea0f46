package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// DLQRepository manages the dead-letter queue in PostgreSQL.
type DLQRepository struct {
	db *sqlx.DB
}

// NewDLQRepository creates a new dead-letter queue repository.
func NewDLQRepository(db *sqlx.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

const dlqColumns = `id, original_job_id, source_id, stage, error_type, error_message,
       error_stack, payload, retry_count, max_retries, next_retry_at, status,
       resolved_at, resolution_notes, created_at`

// Insert adds a new item to the dead-letter queue.
func (r *DLQRepository) Insert(ctx context.Context, item *domain.DeadLetterItem) error {
	query := `
		INSERT INTO dead_letter_queue
			(original_job_id, source_id, stage, error_type, error_message,
			 error_stack, payload, max_retries, next_retry_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		item.OriginalJobID, item.SourceID, item.Stage, item.ErrorType,
		item.ErrorMessage, item.ErrorStack, item.Payload, item.MaxRetries,
		item.NextRetryAt,
	).Scan(&item.ID, &item.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert DLQ item: %w", err)
	}
	return nil
}

// ReadyForRetry returns items due for retry, locked against concurrent
// sweepers via SKIP LOCKED.
func (r *DLQRepository) ReadyForRetry(ctx context.Context, limit int) ([]*domain.DeadLetterItem, error) {
	query := `
		SELECT ` + dlqColumns + `
		FROM dead_letter_queue
		WHERE status = 'pending'
		  AND next_retry_at <= NOW()
		  AND retry_count < max_retries
		ORDER BY next_retry_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	var items []*domain.DeadLetterItem
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch retryable DLQ items: %w", err)
	}
	if items == nil {
		items = []*domain.DeadLetterItem{}
	}
	return items, nil
}

// MarkRetrying transitions an item to retrying and bumps its retry count
// and next retry time (base * 2^retry_count, computed in SQL).
func (r *DLQRepository) MarkRetrying(ctx context.Context, id string) error {
	query := `
		UPDATE dead_letter_queue
		SET status = 'retrying',
		    retry_count = retry_count + 1,
		    next_retry_at = NOW() + (INTERVAL '1 hour' * POWER(2, retry_count + 1))
		WHERE id = $1
		  AND status = 'pending'
		  AND retry_count < max_retries
	`

	return r.exec(ctx, query, "mark DLQ item retrying", id)
}

// MarkResolved marks an item resolved. Terminal.
func (r *DLQRepository) MarkResolved(ctx context.Context, id string) error {
	query := `
		UPDATE dead_letter_queue
		SET status = 'resolved',
		    resolved_at = NOW(),
		    resolution_notes = 'Retry succeeded'
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`

	return r.exec(ctx, query, "mark DLQ item resolved", id)
}

// MarkDiscarded marks an item discarded with a reason. Terminal.
func (r *DLQRepository) MarkDiscarded(ctx context.Context, id, reason string) error {
	query := `
		UPDATE dead_letter_queue
		SET status = 'discarded',
		    resolved_at = NOW(),
		    resolution_notes = $2
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`

	return r.exec(ctx, query, "mark DLQ item discarded", id, reason)
}

// BackToPending moves a retrying item back to pending after a failed retry
// attempt, keeping its already-advanced schedule.
func (r *DLQRepository) BackToPending(ctx context.Context, id string) error {
	query := `
		UPDATE dead_letter_queue
		SET status = 'pending'
		WHERE id = $1 AND status = 'retrying'
	`

	return r.exec(ctx, query, "return DLQ item to pending", id)
}

// ResetToPending resets any non-terminal state for an operator-forced
// retry: clears resolution fields and makes the item immediately due.
func (r *DLQRepository) ResetToPending(ctx context.Context, id string) error {
	query := `
		UPDATE dead_letter_queue
		SET status = 'pending',
		    resolved_at = NULL,
		    resolution_notes = NULL,
		    next_retry_at = NOW()
		WHERE id = $1
	`

	return r.exec(ctx, query, "reset DLQ item", id)
}

// Stats summarizes the queue for monitoring and alerting.
type Stats struct {
	Pending   int64 `db:"pending"`
	Retrying  int64 `db:"retrying"`
	Resolved  int64 `db:"resolved"`
	Discarded int64 `db:"discarded"`
}

// Active returns the alert-relevant depth: pending plus retrying.
func (s Stats) Active() int64 { return s.Pending + s.Retrying }

// GetStats returns dead-letter queue statistics.
func (r *DLQRepository) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'retrying') AS retrying,
			COUNT(*) FILTER (WHERE status = 'resolved') AS resolved,
			COUNT(*) FILTER (WHERE status = 'discarded') AS discarded
		FROM dead_letter_queue
	`

	var stats Stats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get DLQ stats: %w", err)
	}
	return &stats, nil
}

// GetByID retrieves a single item.
func (r *DLQRepository) GetByID(ctx context.Context, id string) (*domain.DeadLetterItem, error) {
	var item domain.DeadLetterItem
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE id = $1`

	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get DLQ item: %w", err)
	}
	return &item, nil
}

// CleanupOld removes terminal items older than the given number of days.
func (r *DLQRepository) CleanupOld(ctx context.Context, daysOld int) (int64, error) {
	query := `
		DELETE FROM dead_letter_queue
		WHERE status IN ('resolved', 'discarded')
		  AND created_at < NOW() - ($1 || ' days')::interval
	`

	result, err := r.db.ExecContext(ctx, query, daysOld)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up DLQ: %w", err)
	}
	return result.RowsAffected()
}

func (r *DLQRepository) exec(ctx context.Context, query, op string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
