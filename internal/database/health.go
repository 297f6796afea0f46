package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PipelineHealth is a point-in-time snapshot of pipeline state, mirroring
// the get_pipeline_health contract.
type PipelineHealth struct {
	EnabledSources     int64 `db:"enabled_sources" json:"enabled_sources"`
	QuarantinedSources int64 `db:"quarantined_sources" json:"quarantined_sources"`
	PendingJobs        int64 `db:"pending_jobs" json:"pending_jobs"`
	RunningJobs        int64 `db:"running_jobs" json:"running_jobs"`
	FailedJobs24h      int64 `db:"failed_jobs_24h" json:"failed_jobs_24h"`
	DLQActive          int64 `db:"dlq_active" json:"dlq_active"`
	EventsInserted24h  int64 `db:"events_inserted_24h" json:"events_inserted_24h"`
}

// HealthRepository reports pipeline health.
type HealthRepository struct {
	db *sqlx.DB
}

// NewHealthRepository creates a new health repository.
func NewHealthRepository(db *sqlx.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Snapshot returns the current pipeline health counters.
func (r *HealthRepository) Snapshot(ctx context.Context) (*PipelineHealth, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM scraper_sources WHERE enabled = true AND auto_disabled = false) AS enabled_sources,
			(SELECT COUNT(*) FROM scraper_sources WHERE quarantined = true) AS quarantined_sources,
			(SELECT COUNT(*) FROM scrape_jobs WHERE status = 'pending') AS pending_jobs,
			(SELECT COUNT(*) FROM scrape_jobs WHERE status = 'running') AS running_jobs,
			(SELECT COUNT(*) FROM scrape_jobs WHERE status = 'failed' AND completed_at > NOW() - INTERVAL '24 hours') AS failed_jobs_24h,
			(SELECT COUNT(*) FROM dead_letter_queue WHERE status IN ('pending', 'retrying')) AS dlq_active,
			(SELECT COUNT(*) FROM events WHERE created_at > NOW() - INTERVAL '24 hours') AS events_inserted_24h
	`

	var health PipelineHealth
	if err := r.db.GetContext(ctx, &health, query); err != nil {
		return nil, fmt.Errorf("failed to snapshot pipeline health: %w", err)
	}
	return &health, nil
}

// Ping verifies database connectivity.
func (r *HealthRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
