// Package worker claims scrape jobs and runs the full pipeline for
// each: fetch, extract, normalize, dedup, insert, heal, retry.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/dedup"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/extract"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
	"github.com/stadspuls/eventpipe/internal/notify"
)

// HealMinHTMLBytes is the smallest page that still counts as "the site
// responded but our parsing is broken". Anything smaller is treated as
// a fetch problem, not a parse problem.
const HealMinHTMLBytes = 2048

// JobStore is the slice of the job repository the worker needs.
type JobStore interface {
	Claim(ctx context.Context, limit int) ([]*domain.ScrapeJob, error)
	Complete(ctx context.Context, id string, scraped, inserted int) error
	Fail(ctx context.Context, id, errMsg string) error
	ResetForProxyRetry(ctx context.Context, id string) error
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

// SourceStore reads and mutates sources during processing and healing.
type SourceStore interface {
	GetByID(ctx context.Context, id string) (*domain.Source, error)
	UpdateStats(ctx context.Context, id string, eventsScraped int, runErr error) error
	BumpFailures(ctx context.Context, id string, quarantineAt int) (int, error)
	ClearFailures(ctx context.Context, id string) error
	UpdateConfig(ctx context.Context, id string, cfg domain.ExtractionConfig) error
	CheckAndHealFetcher(ctx context.Context, id string) (domain.FetchStrategy, bool, error)
}

// EventStore persists admitted events.
type EventStore interface {
	Insert(ctx context.Context, ev *domain.Event) error
}

// StagingStore records raw cards between extraction and insertion.
type StagingStore interface {
	Insert(ctx context.Context, row *domain.RawEventStaging) error
	UpdateStatus(ctx context.Context, id, status string) error
}

// RepairLogStore records selector-healing attempts.
type RepairLogStore interface {
	Insert(ctx context.Context, log *domain.RepairLog) error
}

// DeadLetterer pushes failed stages into the dead-letter queue.
type DeadLetterer interface {
	Push(ctx context.Context, job *domain.ScrapeJob, stage domain.FailureStage, cause error) error
}

// Fetcher retrieves pages with the source's configured strategy.
type Fetcher interface {
	Fetch(ctx context.Context, source *domain.Source, url string, forceProxy bool) (*fetch.Result, error)
}

// Extractor runs the strategy waterfall over a fetched page.
type Extractor interface {
	Run(ctx context.Context, html, pageURL string, source *domain.Source) (*extract.Outcome, error)
	Strategy(method domain.ParsingMethod) extract.Strategy
}

// Normalizer converts raw cards into normalized events.
type Normalizer interface {
	Normalize(ctx context.Context, card domain.RawEventCard, source *domain.Source) (*domain.NormalizedEvent, error)
}

// Deduper runs the duplicate ladder.
type Deduper interface {
	Check(ctx context.Context, event *domain.NormalizedEvent) (*dedup.Verdict, error)
}

// SelectorHealer proposes new selectors for a drifted source. Nil
// disables AI healing.
type SelectorHealer interface {
	SuggestSelectors(ctx context.Context, htmlSample string, currentSelectors []string) (*ai.RepairSuggestion, error)
}

// Notifier posts run summaries.
type Notifier interface {
	RunCompleted(ctx context.Context, summary notify.RunSummary) error
}

// Waker chain-triggers another worker invocation.
type Waker interface {
	Wake(url string)
}

// Config tunes one worker instance.
type Config struct {
	BatchSize    int
	QuarantineAt int    // consecutive parse failures before quarantine
	SelfURL      string // chain-trigger target; empty disables
	EnrichStaged bool   // park inserted cards for the enrichment sweep
}

// Worker drains the scrape job queue.
type Worker struct {
	jobs       JobStore
	sources    SourceStore
	events     EventStore
	staging    StagingStore
	repairs    RepairLogStore
	dlq        DeadLetterer
	fetcher    Fetcher
	extractor  Extractor
	normalizer Normalizer
	deduper    Deduper
	healer     SelectorHealer
	notifier   Notifier
	waker      Waker
	metrics    *metrics.Metrics
	cfg        Config
	logger     logger.Interface
}

// New wires a worker. healer may be nil when no LLM is configured.
func New(jobs JobStore, sources SourceStore, events EventStore, staging StagingStore,
	repairs RepairLogStore, dlq DeadLetterer, fetcher Fetcher, extractor Extractor,
	normalizer Normalizer, deduper Deduper, healer SelectorHealer,
	notifier Notifier, waker Waker, m *metrics.Metrics, cfg Config, log logger.Interface) *Worker {
	return &Worker{
		jobs:       jobs,
		sources:    sources,
		events:     events,
		staging:    staging,
		repairs:    repairs,
		dlq:        dlq,
		fetcher:    fetcher,
		extractor:  extractor,
		normalizer: normalizer,
		deduper:    deduper,
		healer:     healer,
		notifier:   notifier,
		waker:      waker,
		metrics:    m,
		cfg:        cfg,
		logger:     log,
	}
}

// JobResult is the outcome of one processed job.
type JobResult struct {
	JobID      string               `json:"job_id"`
	SourceID   string               `json:"source_id"`
	SourceName string               `json:"source_name"`
	Scraped    int                  `json:"scraped"`
	Inserted   int                  `json:"inserted"`
	Duplicates int                  `json:"duplicates"`
	Rejected   int                  `json:"rejected"`
	Method     domain.ParsingMethod `json:"method,omitempty"`
	DurationMs int64                `json:"duration_ms"`
	Requeued   bool                 `json:"requeued"`
	Error      string               `json:"error,omitempty"`
}

// DrainResult summarizes one worker invocation.
type DrainResult struct {
	Processed        int         `json:"processed"`
	Completed        int         `json:"completed"`
	Failed           int         `json:"failed"`
	Requeued         int         `json:"requeued"`
	BatchSize        int         `json:"batch_size"`
	PendingRemaining int         `json:"pending_remaining"`
	Results          []JobResult `json:"results"`
}

// AllSucceeded reports whether every processed job completed.
func (r *DrainResult) AllSucceeded() bool { return r.Failed == 0 }

// Drain claims one batch and processes its jobs in parallel. Fetches
// within one job stay sequential so per-source rate limits hold.
func (w *Worker) Drain(ctx context.Context, deepScrape bool) (*DrainResult, error) {
	jobs, err := w.jobs.Claim(ctx, w.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{BatchSize: w.cfg.BatchSize, Results: make([]JobResult, len(jobs))}
	if len(jobs) == 0 {
		return result, nil
	}
	w.metrics.JobsClaimedTotal.Add(float64(len(jobs)))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			result.Results[i] = *w.processJob(gctx, job, deepScrape)
			return nil
		})
	}
	_ = g.Wait()

	summary := notify.RunSummary{Component: "worker"}
	for _, jr := range result.Results {
		result.Processed++
		summary.Scraped += jr.Scraped
		summary.Inserted += jr.Inserted
		summary.Duplicates += jr.Duplicates
		switch {
		case jr.Requeued:
			result.Requeued++
		case jr.Error != "":
			result.Failed++
			summary.Failures = append(summary.Failures,
				fmt.Sprintf("%s: %s", jr.SourceName, jr.Error))
		default:
			result.Completed++
		}
	}
	summary.Processed = result.Processed
	summary.Completed = result.Completed
	summary.Failed = result.Failed

	pending, err := w.jobs.CountPending(ctx)
	if err != nil {
		w.logger.Warn("failed to count pending jobs", "error", err)
	}
	result.PendingRemaining = pending

	// A full batch with work left behind means the queue is deeper than
	// one invocation; wake another.
	if len(jobs) == w.cfg.BatchSize && pending > 0 && w.cfg.SelfURL != "" {
		w.waker.Wake(w.cfg.SelfURL)
	}

	w.logger.Info("worker drain complete",
		"processed", result.Processed,
		"completed", result.Completed,
		"failed", result.Failed,
		"requeued", result.Requeued,
		"inserted", summary.Inserted,
		"duplicates", summary.Duplicates,
		"pending_remaining", pending)

	if err := w.notifier.RunCompleted(ctx, summary); err != nil {
		w.logger.Warn("failed to post worker summary", "error", err)
	}

	return result, nil
}

// ReapStale recovers running jobs abandoned by a dead invocation.
func (w *Worker) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	reaped, err := w.jobs.ReapStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if reaped > 0 {
		w.metrics.JobsRequeuedTotal.WithLabelValues("stale_reap").Add(float64(reaped))
		w.logger.Warn("reaped stale running jobs", "count", reaped, "older_than", olderThan)
	}
	return reaped, nil
}
