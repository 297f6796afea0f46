package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations. Racing inserts with the same content hash resolve here: the
// constraint is authoritative, the loser counts as a duplicate.
const uniqueViolation = "23505"

// ErrDuplicateEvent is returned when an insert loses the unique-constraint
// race on content_hash or (source_id, event_fingerprint).
var ErrDuplicateEvent = errors.New("duplicate event")

// EventRepository handles database operations for events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ExistsByContentHash reports whether any event carries the given content
// hash (global lookup).
func (r *EventRepository) ExistsByContentHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM events WHERE content_hash = $1)`, hash)
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return exists, nil
}

// ExistsByFingerprint reports whether the source already produced an event
// with the given fingerprint (per-source lookup).
func (r *EventRepository) ExistsByFingerprint(ctx context.Context, sourceID, fingerprint string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM events WHERE source_id = $1 AND event_fingerprint = $2)`,
		sourceID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

// Insert persists a normalized event. Returns ErrDuplicateEvent when a
// unique constraint rejects it.
func (r *EventRepository) Insert(ctx context.Context, ev *domain.Event) error {
	query := `
		INSERT INTO events
			(title, description, category, event_type, venue_name, lat, lng,
			 event_date, event_time, image_url, source_id, event_fingerprint,
			 content_hash, embedding, embedding_model, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		ev.Title, ev.Description, ev.Category, ev.EventType, ev.VenueName,
		ev.Lat, ev.Lng, ev.EventDate, ev.EventTime, ev.ImageURL, ev.SourceID,
		ev.EventFingerprint, ev.ContentHash, ev.Embedding, ev.EmbeddingModel,
		ev.Status,
	).Scan(&ev.ID, &ev.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// GetByFingerprint loads the event a source produced under the given
// fingerprint.
func (r *EventRepository) GetByFingerprint(ctx context.Context, sourceID, fingerprint string) (*domain.Event, error) {
	query := `
		SELECT id, title, description, category, event_type, venue_name, lat, lng,
		       event_date, event_time, image_url, source_id, event_fingerprint,
		       content_hash, embedding_model, status, social_five, quality_score,
		       created_at
		FROM events
		WHERE source_id = $1 AND event_fingerprint = $2
	`

	var ev domain.Event
	if err := r.db.GetContext(ctx, &ev, query, sourceID, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event by fingerprint: %w", err)
	}
	return &ev, nil
}

// UpdateEnrichment stores the Social Five payload and quality score on an
// event.
func (r *EventRepository) UpdateEnrichment(ctx context.Context, id string, five domain.JSONBMap, quality float64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET social_five = $2, quality_score = $3 WHERE id = $1`,
		id, five, quality)
	if err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NearestMatch is the result of an ANN lookup against event embeddings.
type NearestMatch struct {
	ID         string    `db:"id"`
	Title      string    `db:"title"`
	EventDate  time.Time `db:"event_date"`
	Similarity float64   `db:"similarity"`
}

// MatchEvents finds the closest events by cosine similarity, filtered by
// the given threshold. Mirrors the match_events RPC contract.
func (r *EventRepository) MatchEvents(ctx context.Context, embedding []float32, threshold float64, limit int) ([]NearestMatch, error) {
	query := `
		SELECT id, title, event_date,
		       1 - (embedding <=> $1) AS similarity
		FROM events
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`

	var matches []NearestMatch
	err := r.db.SelectContext(ctx, &matches, query, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to match events: %w", err)
	}

	return matches, nil
}

// CountForDate returns the number of events on a given date, used by
// volatility estimation.
func (r *EventRepository) CountForDate(ctx context.Context, sourceID string, date time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM events WHERE source_id = $1 AND event_date::date = $2::date`,
		sourceID, date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
