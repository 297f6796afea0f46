package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/dedup"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
)

type fakeLookup struct {
	hashes       map[string]bool
	fingerprints map[string]bool
	matches      []database.NearestMatch
}

func (f *fakeLookup) ExistsByContentHash(_ context.Context, hash string) (bool, error) {
	return f.hashes[hash], nil
}

func (f *fakeLookup) ExistsByFingerprint(_ context.Context, sourceID, fp string) (bool, error) {
	return f.fingerprints[sourceID+"/"+fp], nil
}

func (f *fakeLookup) MatchEvents(_ context.Context, _ []float32, _ float64, _ int) ([]database.NearestMatch, error) {
	return f.matches, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, 768), nil
}

func (fakeEmbedder) Model() string { return "text-embedding-004" }

func candidate() *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Title:     "Jazz in het Park",
		EventDate: "2026-07-01",
		VenueName: "Stadspark",
		SourceID:  "src-1",
	}
}

func TestLadderContentHashHit(t *testing.T) {
	event := candidate()
	lookup := &fakeLookup{hashes: map[string]bool{event.ContentHash(): true}}
	ladder := dedup.NewLadder(lookup, nil, logger.NewNop())

	verdict, err := ladder.Check(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, verdict.Duplicate)
	assert.Equal(t, dedup.LevelContentHash, verdict.Level)
}

func TestLadderFingerprintHit(t *testing.T) {
	event := candidate()
	lookup := &fakeLookup{
		hashes:       map[string]bool{},
		fingerprints: map[string]bool{"src-1/" + event.Fingerprint(): true},
	}
	ladder := dedup.NewLadder(lookup, nil, logger.NewNop())

	verdict, err := ladder.Check(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, verdict.Duplicate)
	assert.Equal(t, dedup.LevelFingerprint, verdict.Level)
}

func TestLadderSemanticHitWithinWindow(t *testing.T) {
	lookup := &fakeLookup{
		hashes:       map[string]bool{},
		fingerprints: map[string]bool{},
		matches: []database.NearestMatch{{
			ID:         "ev-1",
			Title:      "Jazz @ Park",
			EventDate:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			Similarity: 0.97,
		}},
	}
	ladder := dedup.NewLadder(lookup, fakeEmbedder{}, logger.NewNop())

	verdict, err := ladder.Check(context.Background(), candidate())
	require.NoError(t, err)
	assert.True(t, verdict.Duplicate)
	assert.Equal(t, dedup.LevelSemantic, verdict.Level)
}

func TestLadderSemanticMissOutsideWindow(t *testing.T) {
	lookup := &fakeLookup{
		hashes:       map[string]bool{},
		fingerprints: map[string]bool{},
		matches: []database.NearestMatch{{
			ID:         "ev-1",
			Title:      "Jazz @ Park",
			EventDate:  time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC),
			Similarity: 0.97,
		}},
	}
	ladder := dedup.NewLadder(lookup, fakeEmbedder{}, logger.NewNop())

	verdict, err := ladder.Check(context.Background(), candidate())
	require.NoError(t, err)
	assert.False(t, verdict.Duplicate)
	// The embedding computed for the check travels with the admit.
	require.NotNil(t, verdict.Embedding)
	assert.Equal(t, "text-embedding-004", verdict.EmbeddingModel)
}

func TestLadderAdmitWithoutEmbedder(t *testing.T) {
	lookup := &fakeLookup{hashes: map[string]bool{}, fingerprints: map[string]bool{}}
	ladder := dedup.NewLadder(lookup, nil, logger.NewNop())

	verdict, err := ladder.Check(context.Background(), candidate())
	require.NoError(t, err)
	assert.False(t, verdict.Duplicate)
	assert.Nil(t, verdict.Embedding)
}
