package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// StagingRepository handles the raw event staging table.
type StagingRepository struct {
	db *sqlx.DB
}

// NewStagingRepository creates a new staging repository.
func NewStagingRepository(db *sqlx.DB) *StagingRepository {
	return &StagingRepository{db: db}
}

// Insert stores a raw extracted event.
func (r *StagingRepository) Insert(ctx context.Context, row *domain.RawEventStaging) error {
	query := `
		INSERT INTO raw_event_staging
			(source_id, status, source_url, detail_url, raw_html, detail_html,
			 parsing_method, title, event_date, event_time, location,
			 description, image_url, quality_score, data_completeness)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		row.SourceID, row.Status, row.SourceURL, row.DetailURL, row.RawHTML,
		row.DetailHTML, row.ParsingMethod, row.Title, row.EventDate,
		row.EventTime, row.Location, row.Description, row.ImageURL,
		row.QualityScore, row.DataCompleteness,
	).Scan(&row.ID, &row.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert staging row: %w", err)
	}
	return nil
}

// UpdateStatus transitions a staging row's status.
func (r *StagingRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE raw_event_staging SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update staging status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PendingEnrichment returns staged rows awaiting enrichment.
func (r *StagingRepository) PendingEnrichment(ctx context.Context, limit int) ([]*domain.RawEventStaging, error) {
	query := `
		SELECT id, source_id, status, source_url, detail_url, raw_html, detail_html,
		       parsing_method, title, event_date, event_time, location, description,
		       image_url, quality_score, data_completeness, created_at
		FROM raw_event_staging
		WHERE status = 'awaiting_enrichment'
		ORDER BY created_at ASC
		LIMIT $1
	`

	var rows []*domain.RawEventStaging
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list staging rows: %w", err)
	}
	if rows == nil {
		rows = []*domain.RawEventStaging{}
	}
	return rows, nil
}
