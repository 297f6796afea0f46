package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// SourceRepository handles database operations for scraper sources.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

const sourceColumns = `id, name, url, tier, enabled, auto_disabled, fetch_strategy,
       extraction_config, default_lat, default_lng, location_name, language,
       volatility_score, consecutive_errors, consecutive_failures,
       last_scraped_at, next_scrape_at, last_error, total_events_scraped,
       quarantined, config_version, created_at, updated_at`

// GetByID retrieves a source by its ID.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	var src domain.Source
	query := `SELECT ` + sourceColumns + ` FROM scraper_sources WHERE id = $1`

	if err := r.db.GetContext(ctx, &src, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return &src, nil
}

// ListEnabled returns all enabled, non-auto-disabled sources, optionally
// filtered to the given IDs.
func (r *SourceRepository) ListEnabled(ctx context.Context, ids []string) ([]*domain.Source, error) {
	var sources []*domain.Source
	var err error

	if len(ids) > 0 {
		query, args, buildErr := sqlx.In(
			`SELECT `+sourceColumns+` FROM scraper_sources
			 WHERE enabled = true AND auto_disabled = false AND id IN (?)`, ids)
		if buildErr != nil {
			return nil, fmt.Errorf("failed to build source query: %w", buildErr)
		}
		err = r.db.SelectContext(ctx, &sources, r.db.Rebind(query), args...)
	} else {
		err = r.db.SelectContext(ctx, &sources,
			`SELECT `+sourceColumns+` FROM scraper_sources
			 WHERE enabled = true AND auto_disabled = false`)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}

	if sources == nil {
		sources = []*domain.Source{}
	}
	return sources, nil
}

// List returns all sources.
func (r *SourceRepository) List(ctx context.Context) ([]*domain.Source, error) {
	var sources []*domain.Source
	err := r.db.SelectContext(ctx, &sources,
		`SELECT `+sourceColumns+` FROM scraper_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if sources == nil {
		sources = []*domain.Source{}
	}
	return sources, nil
}

// ListForHealing returns quarantined sources plus sources with at least
// minFailures consecutive failures.
func (r *SourceRepository) ListForHealing(ctx context.Context, minFailures, limit int) ([]*domain.Source, error) {
	var sources []*domain.Source
	query := `
		SELECT ` + sourceColumns + ` FROM scraper_sources
		WHERE quarantined = true OR consecutive_failures >= $1
		ORDER BY consecutive_failures DESC
		LIMIT $2
	`

	if err := r.db.SelectContext(ctx, &sources, query, minFailures, limit); err != nil {
		return nil, fmt.Errorf("failed to list sources for healing: %w", err)
	}
	if sources == nil {
		sources = []*domain.Source{}
	}
	return sources, nil
}

// UpdateStats records the outcome of a scrape run. A success clears the
// error counters; a failure bumps them and stores the error.
func (r *SourceRepository) UpdateStats(ctx context.Context, id string, eventsScraped int, runErr error) error {
	var query string
	var args []any

	if runErr == nil {
		query = `
			UPDATE scraper_sources
			SET last_scraped_at = NOW(),
			    consecutive_errors = 0,
			    last_error = NULL,
			    total_events_scraped = total_events_scraped + $2,
			    updated_at = NOW()
			WHERE id = $1
		`
		args = []any{id, eventsScraped}
	} else {
		query = `
			UPDATE scraper_sources
			SET last_scraped_at = NOW(),
			    consecutive_errors = consecutive_errors + 1,
			    last_error = $2,
			    updated_at = NOW()
			WHERE id = $1
		`
		args = []any{id, runErr.Error()}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update source stats: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// BumpFailures increments consecutive_failures; when the count reaches the
// threshold the source is quarantined and disabled.
func (r *SourceRepository) BumpFailures(ctx context.Context, id string, quarantineAt int) (int, error) {
	query := `
		UPDATE scraper_sources
		SET consecutive_failures = consecutive_failures + 1,
		    quarantined = (consecutive_failures + 1 >= $2),
		    enabled = enabled AND (consecutive_failures + 1 < $2),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING consecutive_failures
	`

	var failures int
	if err := r.db.GetContext(ctx, &failures, query, id, quarantineAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("failed to bump source failures: %w", err)
	}
	return failures, nil
}

// ClearFailures resets consecutive_failures after a successful parse.
func (r *SourceRepository) ClearFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scraper_sources SET consecutive_failures = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear source failures: %w", err)
	}
	return nil
}

// UpdateConfig writes a new extraction config and bumps config_version.
// Last writer wins.
func (r *SourceRepository) UpdateConfig(ctx context.Context, id string, cfg domain.ExtractionConfig) error {
	query := `
		UPDATE scraper_sources
		SET extraction_config = $2,
		    config_version = config_version + 1,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, cfg)
	if err != nil {
		return fmt.Errorf("failed to update source config: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetQuarantined sets or clears quarantine. Quarantined sources are always
// disabled; clearing quarantine re-enables the source.
func (r *SourceRepository) SetQuarantined(ctx context.Context, id string, quarantined bool) error {
	query := `
		UPDATE scraper_sources
		SET quarantined = $2,
		    enabled = NOT $2,
		    consecutive_failures = CASE WHEN $2 THEN consecutive_failures ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, quarantined)
	if err != nil {
		return fmt.Errorf("failed to set source quarantine: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CheckAndHealFetcher flips a source's fetch strategy static -> headless
// when repeated runs produced no events, on the theory that the site went
// client-rendered. Returns the strategy in effect and whether it changed.
func (r *SourceRepository) CheckAndHealFetcher(ctx context.Context, id string) (domain.FetchStrategy, bool, error) {
	query := `
		UPDATE scraper_sources
		SET fetch_strategy = 'headless',
		    config_version = config_version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND fetch_strategy = 'static'
		  AND consecutive_failures >= 2
		RETURNING fetch_strategy
	`

	var strategy domain.FetchStrategy
	err := r.db.GetContext(ctx, &strategy, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		src, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return "", false, getErr
		}
		return src.FetchStrategy, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to heal fetcher: %w", err)
	}

	return strategy, true, nil
}

// Upsert inserts a discovered source, or returns the existing row's ID when
// the URL is already known.
func (r *SourceRepository) Upsert(ctx context.Context, src *domain.Source) (string, bool, error) {
	query := `
		INSERT INTO scraper_sources
			(name, url, tier, enabled, fetch_strategy, extraction_config,
			 default_lat, default_lng, location_name, language, volatility_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (url) DO UPDATE SET updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`

	var row struct {
		ID       string `db:"id"`
		Inserted bool   `db:"inserted"`
	}
	err := r.db.GetContext(ctx, &row, query,
		src.Name, src.URL, src.Tier, src.Enabled, src.FetchStrategy,
		src.ExtractionConfig, src.DefaultLat, src.DefaultLng,
		src.LocationName, src.Language, src.VolatilityScore,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to upsert source: %w", err)
	}

	return row.ID, row.Inserted, nil
}
