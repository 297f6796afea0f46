// Package dlq routes failed pipeline stages into the dead-letter queue
// and sweeps items whose retry is due back into the scrape queue.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/extract"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
)

// Retried items jump ahead of regularly scheduled jobs.
const retryPriority = 10

const discardNote = "Discarded after max retries"

// Queue is the dead-letter persistence the service needs.
type Queue interface {
	Insert(ctx context.Context, item *domain.DeadLetterItem) error
	ReadyForRetry(ctx context.Context, limit int) ([]*domain.DeadLetterItem, error)
	MarkRetrying(ctx context.Context, id string) error
	MarkResolved(ctx context.Context, id string) error
	MarkDiscarded(ctx context.Context, id, reason string) error
	BackToPending(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// JobEnqueuer re-creates scrape jobs for retryable items.
type JobEnqueuer interface {
	EnqueueBatch(ctx context.Context, entries []database.EnqueueEntry) (int, error)
}

// Latch gates the depth alert so it fires once per raised period.
type Latch interface {
	ShouldFire(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
}

// Alerter posts depth alerts.
type Alerter interface {
	Alert(ctx context.Context, title, detail string) error
}

// Service manages the dead-letter queue lifecycle.
type Service struct {
	queue   Queue
	jobs    JobEnqueuer
	latch   Latch
	alerter Alerter
	metrics *metrics.Metrics
	logger  logger.Interface
}

// New creates a dead-letter service.
func New(queue Queue, jobs JobEnqueuer, latch Latch, alerter Alerter, m *metrics.Metrics, log logger.Interface) *Service {
	return &Service{
		queue:   queue,
		jobs:    jobs,
		latch:   latch,
		alerter: alerter,
		metrics: m,
		logger:  log,
	}
}

// Push records a failed stage for a source. The original job ID and its
// payload are kept so a retry can reconstruct the work.
func (s *Service) Push(ctx context.Context, job *domain.ScrapeJob, stage domain.FailureStage, cause error) error {
	item := domain.NewDeadLetterItem(job.SourceID, stage, ClassifyError(cause), cause.Error())
	item.OriginalJobID = &job.ID
	item.Payload = domain.JSONBMap{
		"sourceId":   job.SourceID,
		"attempts":   job.Attempts,
		"proxyRetry": job.Payload.ProxyRetry,
	}

	if err := s.queue.Insert(ctx, item); err != nil {
		return fmt.Errorf("failed to push %s failure for source %s: %w", stage, job.SourceID, err)
	}

	s.metrics.DLQInsertsTotal.WithLabelValues(string(stage)).Inc()
	s.logger.Warn("pushed failure to dead letter queue",
		"source_id", job.SourceID,
		"stage", stage,
		"error_type", item.ErrorType,
		"error", cause.Error())
	return nil
}

// ClassifyError maps a pipeline error onto the retry taxonomy.
func ClassifyError(err error) domain.ErrorKind {
	var blocked *fetch.BlockedFetchError
	switch {
	case errors.As(err, &blocked):
		return domain.ErrorBlockedFetch
	case errors.Is(err, extract.ErrNoCards):
		return domain.ErrorSourceDrift
	default:
		return domain.ErrorTransient
	}
}

// SweepResult summarizes one retry sweep.
type SweepResult struct {
	Examined  int
	Requeued  int
	Discarded int
	Returned  int
}

// retryableStage reports whether re-running the scrape job can fix the
// failure. Later stages fail deterministically on the same input, so a
// re-scrape only helps when the source itself may have changed.
func retryableStage(stage domain.FailureStage) bool {
	switch stage {
	case domain.StageFetch, domain.StageParse:
		return true
	default:
		return false
	}
}

// Sweep retries due items: retryable stages get a fresh high-priority
// scrape job, the rest are returned to the schedule until their retries
// run out.
func (s *Service) Sweep(ctx context.Context, limit int) (*SweepResult, error) {
	items, err := s.queue.ReadyForRetry(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Examined: len(items)}
	for _, item := range items {
		if err := s.retryOne(ctx, item, result); err != nil {
			s.logger.Error("dead letter retry failed",
				"item_id", item.ID,
				"source_id", item.SourceID,
				"error", err)
		}
	}

	if err := s.CheckDepth(ctx); err != nil {
		s.logger.Warn("failed to check dead letter depth", "error", err)
	}

	return result, nil
}

func (s *Service) retryOne(ctx context.Context, item *domain.DeadLetterItem, result *SweepResult) error {
	if err := s.queue.MarkRetrying(ctx, item.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // claimed or resolved elsewhere
		}
		return err
	}
	item.RetryCount++

	if !retryableStage(item.Stage) {
		return s.settleFailedRetry(ctx, item, result)
	}

	_, err := s.jobs.EnqueueBatch(ctx, []database.EnqueueEntry{{
		SourceID:     item.SourceID,
		Priority:     retryPriority,
		NextScrapeAt: time.Now().UTC(),
	}})
	if err != nil {
		if settleErr := s.settleFailedRetry(ctx, item, result); settleErr != nil {
			return settleErr
		}
		return fmt.Errorf("failed to enqueue retry for source %s: %w", item.SourceID, err)
	}

	// Created or already covered by a pending job; either way the source
	// will be scraped again.
	if err := s.queue.MarkResolved(ctx, item.ID); err != nil {
		return err
	}
	result.Requeued++
	s.logger.Info("requeued dead letter item",
		"item_id", item.ID,
		"source_id", item.SourceID,
		"stage", item.Stage,
		"retry", item.RetryCount)
	return nil
}

// settleFailedRetry sends an item back to pending, or discards it when
// its retries are spent.
func (s *Service) settleFailedRetry(ctx context.Context, item *domain.DeadLetterItem, result *SweepResult) error {
	if item.Exhausted() {
		if err := s.queue.MarkDiscarded(ctx, item.ID, discardNote); err != nil {
			return err
		}
		result.Discarded++
		s.logger.Warn("discarded dead letter item",
			"item_id", item.ID,
			"source_id", item.SourceID,
			"stage", item.Stage)
		return nil
	}

	if err := s.queue.BackToPending(ctx, item.ID); err != nil {
		return err
	}
	result.Returned++
	return nil
}

// CheckDepth updates the depth gauge and raises a latched Slack alert
// when pending plus retrying crosses the threshold. Dropping back below
// rearms the latch.
func (s *Service) CheckDepth(ctx context.Context) error {
	stats, err := s.queue.GetStats(ctx)
	if err != nil {
		return err
	}

	active := stats.Active()
	s.metrics.DLQDepth.Set(float64(active))

	if active <= domain.DLQAlertThreshold {
		return s.latch.Clear(ctx)
	}

	fire, err := s.latch.ShouldFire(ctx)
	if err != nil {
		return err
	}
	if !fire {
		return nil
	}

	s.logger.Error("dead letter queue above threshold",
		"active", active,
		"threshold", domain.DLQAlertThreshold)
	return s.alerter.Alert(ctx, "Dead letter queue above threshold",
		fmt.Sprintf("%d active items (pending %d, retrying %d); threshold is %d",
			active, stats.Pending, stats.Retrying, domain.DLQAlertThreshold))
}
