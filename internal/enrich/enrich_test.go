package enrich_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/enrich"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
)

type fakeStaging struct {
	rows     []*domain.RawEventStaging
	statuses map[string]string
}

func (f *fakeStaging) PendingEnrichment(_ context.Context, _ int) ([]*domain.RawEventStaging, error) {
	return f.rows, nil
}

func (f *fakeStaging) UpdateStatus(_ context.Context, id, status string) error {
	f.statuses[id] = status
	return nil
}

type enrichCall struct {
	id      string
	five    domain.JSONBMap
	quality float64
}

type fakeEvents struct {
	byFingerprint map[string]*domain.Event
	updated       []enrichCall
}

func (f *fakeEvents) GetByFingerprint(_ context.Context, _, fp string) (*domain.Event, error) {
	if ev, ok := f.byFingerprint[fp]; ok {
		return ev, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEvents) UpdateEnrichment(_ context.Context, id string, five domain.JSONBMap, quality float64) error {
	f.updated = append(f.updated, enrichCall{id: id, five: five, quality: quality})
	return nil
}

type fakeEnricher struct {
	five *ai.SocialFive
	err  error
}

func (f *fakeEnricher) Enrich(_ context.Context, _ *domain.NormalizedEvent) (*ai.SocialFive, error) {
	return f.five, f.err
}

func stagedRow(id, title, date string) *domain.RawEventStaging {
	return &domain.RawEventStaging{
		ID:        id,
		SourceID:  "src-1",
		Status:    domain.StagingAwaitingEnrichment,
		Title:     &title,
		EventDate: &date,
	}
}

func storedEvent(title, date string) *domain.Event {
	parsed, _ := time.Parse("2006-01-02", date)
	return &domain.Event{
		ID:        "ev-1",
		Title:     title,
		SourceID:  "src-1",
		EventDate: parsed,
		EventTime: "20:00",
	}
}

func build(staging *fakeStaging, events *fakeEvents, enricher *fakeEnricher) *enrich.Service {
	return enrich.New(staging, events, enricher,
		metrics.New(prometheus.NewRegistry()), logger.NewNop())
}

func TestSweepEnrichesPendingRows(t *testing.T) {
	staging := &fakeStaging{
		rows:     []*domain.RawEventStaging{stagedRow("stg-1", "Jazz Night", "2026-05-20")},
		statuses: map[string]string{},
	}
	events := &fakeEvents{byFingerprint: map[string]*domain.Event{
		domain.Fingerprint("Jazz Night", "2026-05-20", "src-1"): storedEvent("Jazz Night", "2026-05-20"),
	}}
	enricher := &fakeEnricher{five: &ai.SocialFive{
		What: "Live jazz", When: "Tonight 20:00", Where: "Paradiso",
		Who: "Jazz lovers", Vibe: "Intimate", QualityScore: 0.8,
	}}

	result, err := build(staging, events, enricher).Sweep(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Enriched)
	require.Len(t, events.updated, 1)
	assert.Equal(t, "ev-1", events.updated[0].id)
	assert.Equal(t, 0.8, events.updated[0].quality)
	assert.Equal(t, "Live jazz", events.updated[0].five["what"])
	assert.Equal(t, domain.StagingCompleted, staging.statuses["stg-1"])
}

func TestSweepFailsRowsWithoutEvent(t *testing.T) {
	staging := &fakeStaging{
		rows:     []*domain.RawEventStaging{stagedRow("stg-1", "Vanished Show", "2026-05-20")},
		statuses: map[string]string{},
	}
	events := &fakeEvents{byFingerprint: map[string]*domain.Event{}}

	result, err := build(staging, events, &fakeEnricher{}).Sweep(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, domain.StagingFailed, staging.statuses["stg-1"])
	assert.Empty(t, events.updated)
}

func TestSweepLeavesRowQueuedOnLLMFailure(t *testing.T) {
	staging := &fakeStaging{
		rows:     []*domain.RawEventStaging{stagedRow("stg-1", "Jazz Night", "2026-05-20")},
		statuses: map[string]string{},
	}
	events := &fakeEvents{byFingerprint: map[string]*domain.Event{
		domain.Fingerprint("Jazz Night", "2026-05-20", "src-1"): storedEvent("Jazz Night", "2026-05-20"),
	}}
	enricher := &fakeEnricher{err: errors.New("429 rate limited")}

	result, err := build(staging, events, enricher).Sweep(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	// no status change, the next sweep picks it up again
	assert.Empty(t, staging.statuses)
}

func TestSweepSkipsAlreadyEnrichedEvents(t *testing.T) {
	ev := storedEvent("Jazz Night", "2026-05-20")
	ev.SocialFive = domain.JSONBMap{"what": "Live jazz"}
	staging := &fakeStaging{
		rows:     []*domain.RawEventStaging{stagedRow("stg-1", "Jazz Night", "2026-05-20")},
		statuses: map[string]string{},
	}
	events := &fakeEvents{byFingerprint: map[string]*domain.Event{
		domain.Fingerprint("Jazz Night", "2026-05-20", "src-1"): ev,
	}}

	result, err := build(staging, events, &fakeEnricher{}).Sweep(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, domain.StagingCompleted, staging.statuses["stg-1"])
	assert.Empty(t, events.updated)
}
