// Package coordinator decides which sources are due and enqueues scrape
// jobs for them.
package coordinator

import (
	"context"
	"time"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/notify"
)

// Volatility schedule bounds.
const (
	MinInterval = 15 * time.Minute
	MaxInterval = 24 * time.Hour
)

// Source priorities by tier. Aggregators cover many venues per page, so
// they go first when the queue is contended.
var tierPriority = map[domain.SourceTier]int{
	domain.TierAggregator: 5,
	domain.TierVenue:      3,
	domain.TierGeneral:    1,
}

// SourceLister lists sources eligible for scheduling.
type SourceLister interface {
	ListEnabled(ctx context.Context, ids []string) ([]*domain.Source, error)
}

// JobEnqueuer atomically inserts jobs and advances source schedules.
type JobEnqueuer interface {
	EnqueueBatch(ctx context.Context, entries []database.EnqueueEntry) (int, error)
}

// TickMutex serializes coordinator ticks across replicas.
type TickMutex interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Notifier posts the tick summary.
type Notifier interface {
	RunCompleted(ctx context.Context, summary notify.RunSummary) error
}

// Waker triggers an immediate worker drain.
type Waker interface {
	Wake(url string)
}

// Coordinator schedules scrape jobs for due sources.
type Coordinator struct {
	sources   SourceLister
	jobs      JobEnqueuer
	mutex     TickMutex
	notifier  Notifier
	waker     Waker
	workerURL string
	logger    logger.Interface
}

// New creates a coordinator. An empty workerURL disables chain triggers.
func New(sources SourceLister, jobs JobEnqueuer, mutex TickMutex, notifier Notifier, waker Waker, workerURL string, log logger.Interface) *Coordinator {
	return &Coordinator{
		sources:   sources,
		jobs:      jobs,
		mutex:     mutex,
		notifier:  notifier,
		waker:     waker,
		workerURL: workerURL,
		logger:    log,
	}
}

// SourceRef identifies one scheduled source.
type SourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result summarizes one coordinator tick.
type Result struct {
	Skipped  bool        `json:"skipped"`
	Eligible int         `json:"eligible"`
	Enqueued int         `json:"enqueued"`
	Sources  []SourceRef `json:"sources"`
}

// ScrapeInterval maps a volatility score onto the next-run interval:
// volatile sources approach the 15 minute floor, static ones the 24 hour
// ceiling. The tier cadence caps the result so aggregators never drift
// past their expected freshness.
func ScrapeInterval(src *domain.Source) time.Duration {
	v := src.VolatilityScore
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	interval := MaxInterval - time.Duration(v*float64(MaxInterval-MinInterval))
	if cadence := src.Policy().RunEvery; cadence < interval {
		interval = cadence
	}
	return interval
}

// Eligible reports whether a source is due for scraping now.
func Eligible(src *domain.Source, now time.Time) bool {
	if !src.Enabled || src.AutoDisabled || src.Quarantined {
		return false
	}
	if src.NextScrapeAt != nil && src.NextScrapeAt.After(now) {
		return false
	}
	return !src.CircuitOpen(now)
}

// Tick runs one scheduling pass. A non-empty sourceIDs limits the pass
// to those sources. When another replica holds the tick mutex the pass
// is skipped rather than queued.
func (c *Coordinator) Tick(ctx context.Context, sourceIDs []string) (*Result, error) {
	ok, err := c.mutex.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Info("coordinator tick already running elsewhere, skipping")
		return &Result{Skipped: true}, nil
	}
	defer func() {
		if releaseErr := c.mutex.Release(ctx); releaseErr != nil {
			c.logger.Warn("failed to release coordinator tick mutex", "error", releaseErr)
		}
	}()

	sources, err := c.sources.ListEnabled(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var entries []database.EnqueueEntry
	var refs []SourceRef
	for _, src := range sources {
		if !Eligible(src, now) {
			if src.CircuitOpen(now) {
				c.logger.Debug("source circuit open, skipping",
					"source_id", src.ID, "consecutive_errors", src.ConsecutiveErrors)
			}
			continue
		}
		entries = append(entries, database.EnqueueEntry{
			SourceID:     src.ID,
			Priority:     tierPriority[src.Tier],
			NextScrapeAt: now.Add(ScrapeInterval(src)),
		})
		refs = append(refs, SourceRef{ID: src.ID, Name: src.Name})
	}

	created, err := c.jobs.EnqueueBatch(ctx, entries)
	if err != nil {
		return nil, err
	}

	result := &Result{Eligible: len(entries), Enqueued: created, Sources: refs}
	c.logger.Info("coordinator tick complete",
		"sources", len(sources),
		"eligible", result.Eligible,
		"enqueued", result.Enqueued)

	if created > 0 && c.workerURL != "" {
		c.waker.Wake(c.workerURL)
	}

	if err := c.notifier.RunCompleted(ctx, notify.RunSummary{
		Component: "coordinator",
		Processed: result.Eligible,
		Completed: result.Enqueued,
	}); err != nil {
		c.logger.Warn("failed to post coordinator summary", "error", err)
	}

	return result, nil
}
