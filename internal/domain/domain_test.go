package domain_test

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/domain"
)

func TestContentHashDeterministic(t *testing.T) {
	a := domain.ContentHash("Jazz in Park", "2026-07-01")
	b := domain.ContentHash("Jazz in Park", "2026-07-01")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := domain.ContentHash("Jazz in Park", "2026-07-02")
	assert.NotEqual(t, a, c)
}

func TestFingerprintScopedToSource(t *testing.T) {
	a := domain.Fingerprint("Jazz in Park", "2026-07-01", "src-1")
	b := domain.Fingerprint("Jazz in Park", "2026-07-01", "src-2")
	assert.NotEqual(t, a, b)
}

func TestJobStateMachine(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.JobPending, domain.JobRunning, true},
		{domain.JobRunning, domain.JobCompleted, true},
		{domain.JobRunning, domain.JobFailed, true},
		{domain.JobFailed, domain.JobPending, true},
		{domain.JobPending, domain.JobCompleted, false},
		{domain.JobCompleted, domain.JobRunning, false},
		{domain.JobFailed, domain.JobRunning, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, domain.ValidTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestCircuitOpen(t *testing.T) {
	now := time.Now()
	recent := now.Add(-1 * time.Hour)
	old := now.Add(-25 * time.Hour)

	src := domain.Source{ConsecutiveErrors: 3, LastScrapedAt: &recent}
	assert.True(t, src.CircuitOpen(now))

	src.LastScrapedAt = &old
	assert.False(t, src.CircuitOpen(now))

	src = domain.Source{ConsecutiveErrors: 2, LastScrapedAt: &recent}
	assert.False(t, src.CircuitOpen(now))
}

func TestTierPolicy(t *testing.T) {
	agg := domain.Source{Tier: domain.TierAggregator}
	require.Equal(t, domain.StrictnessHigh, agg.Policy().Strictness)
	assert.False(t, agg.Policy().DeepScrape)
	assert.Equal(t, 6*time.Hour, agg.Policy().RunEvery)

	venue := domain.Source{Tier: domain.TierVenue}
	assert.True(t, venue.Policy().DeepScrape)
	assert.True(t, venue.Policy().FeedGuess)

	unknown := domain.Source{Tier: "mystery"}
	assert.Equal(t, domain.StrictnessLow, unknown.Policy().Strictness)
}

func TestDLQRetrySchedule(t *testing.T) {
	item := domain.NewDeadLetterItem("src-1", domain.StageFetch, domain.ErrorTransient, "timeout")
	assert.Equal(t, time.Hour, item.NextRetryDelay())

	item.RetryCount = 1
	assert.Equal(t, 2*time.Hour, item.NextRetryDelay())
	item.RetryCount = 2
	assert.Equal(t, 4*time.Hour, item.NextRetryDelay())

	item.RetryCount = 3
	assert.True(t, item.Exhausted())
	assert.False(t, item.Terminal())

	item.Status = domain.DLQDiscarded
	assert.True(t, item.Terminal())
}

func TestCardCompleteness(t *testing.T) {
	full := domain.RawEventCard{
		Title: "t", Date: "2026-01-01", Location: "loc",
		Description: "d", ImageURL: "i", DetailURL: "u",
	}
	assert.InDelta(t, 1.0, full.Completeness(), 0.001)

	partial := domain.RawEventCard{Title: "t", Date: "2026-01-01"}
	assert.InDelta(t, 2.0/6.0, partial.Completeness(), 0.001)
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	// "café" is 5 bytes; cutting at 4 would split the é.
	assert.Equal(t, "caf", domain.TruncateUTF8("café", 4))
	assert.Equal(t, "café", domain.TruncateUTF8("café", 5))
	assert.Equal(t, "café", domain.TruncateUTF8("café", 100))
	assert.Equal(t, "", domain.TruncateUTF8("café", 0))

	truncated := domain.TruncateUTF8("Théâtercafé aan de gracht", 11)
	assert.True(t, utf8.ValidString(truncated))
	assert.LessOrEqual(t, len(truncated), 11)
}
