// Package dedup implements the three-level duplicate ladder: global
// content hash, per-source fingerprint, then semantic similarity over
// embeddings.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
)

const (
	// SemanticThreshold is the minimum cosine similarity for a semantic
	// duplicate.
	SemanticThreshold = 0.95
	// SemanticDateWindow is how far apart two events may be dated and
	// still count as the same event.
	SemanticDateWindow = 24 * time.Hour
)

// Level names the ladder rung that caught a duplicate.
type Level string

const (
	LevelNone        Level = ""
	LevelContentHash Level = "content_hash"
	LevelFingerprint Level = "fingerprint"
	LevelSemantic    Level = "semantic"
)

// EventLookup is the slice of the event repository the ladder needs.
type EventLookup interface {
	ExistsByContentHash(ctx context.Context, hash string) (bool, error)
	ExistsByFingerprint(ctx context.Context, sourceID, fingerprint string) (bool, error)
	MatchEvents(ctx context.Context, embedding []float32, threshold float64, limit int) ([]database.NearestMatch, error)
}

// Embedder produces the embedding used for semantic matching. Nil
// disables the semantic rung.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Verdict is the ladder's decision for one event.
type Verdict struct {
	Duplicate bool
	Level     Level
	// Embedding computed during the semantic check; stored on the event
	// when it is admitted.
	Embedding      *pgvector.Vector
	EmbeddingModel string
}

// Ladder checks candidate events against existing ones.
type Ladder struct {
	events   EventLookup
	embedder Embedder
	logger   logger.Interface
}

// NewLadder creates a dedup ladder. embedder may be nil.
func NewLadder(events EventLookup, embedder Embedder, log logger.Interface) *Ladder {
	return &Ladder{events: events, embedder: embedder, logger: log}
}

// Check runs the ladder in strict order. The first hit wins; semantic
// duplicates are dropped, not merged.
func (l *Ladder) Check(ctx context.Context, event *domain.NormalizedEvent) (*Verdict, error) {
	exists, err := l.events.ExistsByContentHash(ctx, event.ContentHash())
	if err != nil {
		return nil, fmt.Errorf("content hash lookup failed: %w", err)
	}
	if exists {
		return &Verdict{Duplicate: true, Level: LevelContentHash}, nil
	}

	exists, err = l.events.ExistsByFingerprint(ctx, event.SourceID, event.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("fingerprint lookup failed: %w", err)
	}
	if exists {
		return &Verdict{Duplicate: true, Level: LevelFingerprint}, nil
	}

	if l.embedder == nil {
		return &Verdict{}, nil
	}
	return l.semantic(ctx, event)
}

func (l *Ladder) semantic(ctx context.Context, event *domain.NormalizedEvent) (*Verdict, error) {
	values, err := l.embedder.Embed(ctx, event.CanonicalText())
	if err != nil {
		// Embedding trouble must not block inserts; the first two rungs
		// already passed.
		l.logger.Warn("embedding failed, skipping semantic dedup",
			"source_id", event.SourceID, "title", event.Title, "error", err)
		return &Verdict{}, nil
	}

	embedding := pgvector.NewVector(values)
	verdict := &Verdict{Embedding: &embedding, EmbeddingModel: l.embedder.Model()}

	matches, err := l.events.MatchEvents(ctx, values, SemanticThreshold, 1)
	if err != nil {
		return nil, fmt.Errorf("semantic match failed: %w", err)
	}
	if len(matches) == 0 {
		return verdict, nil
	}

	nearest := matches[0]
	eventDate, err := time.Parse("2006-01-02", event.EventDate)
	if err != nil {
		return verdict, nil
	}

	gap := nearest.EventDate.Sub(eventDate)
	if gap < 0 {
		gap = -gap
	}
	if gap <= SemanticDateWindow {
		l.logger.Info("semantic duplicate dropped",
			"title", event.Title,
			"matched_id", nearest.ID,
			"matched_title", nearest.Title,
			"similarity", nearest.Similarity)
		verdict.Duplicate = true
		verdict.Level = LevelSemantic
	}
	return verdict, nil
}
