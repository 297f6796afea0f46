package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/coordinator"
	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/notify"
)

type fakeLister struct {
	sources []*domain.Source
	filter  []string
}

func (l *fakeLister) ListEnabled(_ context.Context, ids []string) ([]*domain.Source, error) {
	l.filter = ids
	return l.sources, nil
}

type fakeEnqueuer struct{ entries []database.EnqueueEntry }

func (e *fakeEnqueuer) EnqueueBatch(_ context.Context, entries []database.EnqueueEntry) (int, error) {
	e.entries = append(e.entries, entries...)
	return len(entries), nil
}

type fakeMutex struct{ busy bool }

func (m *fakeMutex) TryAcquire(_ context.Context) (bool, error) { return !m.busy, nil }
func (m *fakeMutex) Release(_ context.Context) error            { return nil }

type fakeNotifier struct{ summaries []notify.RunSummary }

func (n *fakeNotifier) RunCompleted(_ context.Context, s notify.RunSummary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

type fakeWaker struct{ urls []string }

func (w *fakeWaker) Wake(url string) { w.urls = append(w.urls, url) }

func enabledSource(id string, tier domain.SourceTier) *domain.Source {
	return &domain.Source{ID: id, Name: id, Tier: tier, Enabled: true}
}

func TestScrapeInterval(t *testing.T) {
	venue := enabledSource("v", domain.TierVenue)

	venue.VolatilityScore = 0
	assert.Equal(t, 24*time.Hour, coordinator.ScrapeInterval(venue))

	venue.VolatilityScore = 1
	assert.Equal(t, 15*time.Minute, coordinator.ScrapeInterval(venue))

	venue.VolatilityScore = 2 // clamped
	assert.Equal(t, 15*time.Minute, coordinator.ScrapeInterval(venue))

	venue.VolatilityScore = 0.5
	assert.Equal(t, 727*time.Minute+30*time.Second, coordinator.ScrapeInterval(venue))

	// tier cadence caps the volatility schedule
	agg := enabledSource("a", domain.TierAggregator)
	agg.VolatilityScore = 0
	assert.Equal(t, 6*time.Hour, coordinator.ScrapeInterval(agg))
}

func TestEligible(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	src := enabledSource("src-1", domain.TierVenue)
	assert.True(t, coordinator.Eligible(src, now))

	disabled := enabledSource("src-2", domain.TierVenue)
	disabled.Enabled = false
	assert.False(t, coordinator.Eligible(disabled, now))

	quarantined := enabledSource("src-3", domain.TierVenue)
	quarantined.Quarantined = true
	assert.False(t, coordinator.Eligible(quarantined, now))

	future := enabledSource("src-4", domain.TierVenue)
	nextAt := now.Add(time.Hour)
	future.NextScrapeAt = &nextAt
	assert.False(t, coordinator.Eligible(future, now))

	due := enabledSource("src-5", domain.TierVenue)
	dueAt := now.Add(-time.Minute)
	due.NextScrapeAt = &dueAt
	assert.True(t, coordinator.Eligible(due, now))
}

func TestEligibleCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tripped := enabledSource("src-1", domain.TierVenue)
	tripped.ConsecutiveErrors = domain.CircuitBreakerThreshold
	lastRun := now.Add(-2 * time.Hour)
	tripped.LastScrapedAt = &lastRun
	assert.False(t, coordinator.Eligible(tripped, now))

	// cool-down elapsed, source gets another chance
	cooled := enabledSource("src-2", domain.TierVenue)
	cooled.ConsecutiveErrors = domain.CircuitBreakerThreshold
	oldRun := now.Add(-25 * time.Hour)
	cooled.LastScrapedAt = &oldRun
	assert.True(t, coordinator.Eligible(cooled, now))
}

func TestTickEnqueuesDueSources(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	due := enabledSource("src-due", domain.TierAggregator)
	due.NextScrapeAt = &past
	notDue := enabledSource("src-later", domain.TierVenue)
	notDue.NextScrapeAt = &future

	jobs := &fakeEnqueuer{}
	waker := &fakeWaker{}
	notifier := &fakeNotifier{}
	coord := coordinator.New(
		&fakeLister{sources: []*domain.Source{due, notDue}},
		jobs, &fakeMutex{}, notifier, waker,
		"http://localhost:8080/worker", logger.NewNop())

	result, err := coord.Tick(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Eligible)
	assert.Equal(t, 1, result.Enqueued)
	assert.Equal(t, []coordinator.SourceRef{{ID: "src-due", Name: "src-due"}}, result.Sources)
	require.Len(t, jobs.entries, 1)
	assert.Equal(t, "src-due", jobs.entries[0].SourceID)
	assert.Equal(t, 5, jobs.entries[0].Priority)
	assert.True(t, jobs.entries[0].NextScrapeAt.After(time.Now().UTC()))

	assert.Equal(t, []string{"http://localhost:8080/worker"}, waker.urls)
	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, "coordinator", notifier.summaries[0].Component)
}

func TestTickSkipsWhenMutexHeld(t *testing.T) {
	jobs := &fakeEnqueuer{}
	coord := coordinator.New(
		&fakeLister{sources: []*domain.Source{enabledSource("src-1", domain.TierVenue)}},
		jobs, &fakeMutex{busy: true}, &fakeNotifier{}, &fakeWaker{}, "", logger.NewNop())

	result, err := coord.Tick(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Empty(t, jobs.entries)
}

func TestTickNoDueSourcesDoesNotWake(t *testing.T) {
	future := time.Now().UTC().Add(time.Hour)
	src := enabledSource("src-1", domain.TierVenue)
	src.NextScrapeAt = &future

	waker := &fakeWaker{}
	coord := coordinator.New(
		&fakeLister{sources: []*domain.Source{src}},
		&fakeEnqueuer{}, &fakeMutex{}, &fakeNotifier{}, waker,
		"http://localhost:8080/worker", logger.NewNop())

	result, err := coord.Tick(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Enqueued)
	assert.Empty(t, waker.urls)
}
