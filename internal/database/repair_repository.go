package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// RepairRepository persists AI selector-healing attempts.
type RepairRepository struct {
	db *sqlx.DB
}

// NewRepairRepository creates a new repair log repository.
func NewRepairRepository(db *sqlx.DB) *RepairRepository {
	return &RepairRepository{db: db}
}

// Insert records a repair attempt. The HTML sample is truncated to keep
// rows bounded.
func (r *RepairRepository) Insert(ctx context.Context, log *domain.RepairLog) error {
	sample := domain.TruncateUTF8(log.RawHTMLSample, domain.RepairLogSampleLimit)

	query := `
		INSERT INTO sg_ai_repair_log
			(source_id, trigger_reason, raw_html_sample, ai_diagnosis,
			 old_config, new_config, validation_passed, applied, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		log.SourceID, log.TriggerReason, sample, log.AIDiagnosis,
		log.OldConfig, log.NewConfig, log.ValidationPassed, log.Applied,
		log.AppliedAt,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert repair log: %w", err)
	}
	return nil
}

// ListBySource returns recent repair attempts for a source.
func (r *RepairRepository) ListBySource(ctx context.Context, sourceID string, limit int) ([]*domain.RepairLog, error) {
	query := `
		SELECT id, source_id, trigger_reason, raw_html_sample, ai_diagnosis,
		       old_config, new_config, validation_passed, applied, applied_at, created_at
		FROM sg_ai_repair_log
		WHERE source_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var logs []*domain.RepairLog
	if err := r.db.SelectContext(ctx, &logs, query, sourceID, limit); err != nil {
		return nil, fmt.Errorf("failed to list repair logs: %w", err)
	}
	if logs == nil {
		logs = []*domain.RepairLog{}
	}
	return logs, nil
}
