package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/dedup"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/extract"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/normalize"
)

// processJob runs the full pipeline for one claimed job. It never
// returns an error; failures are recorded on the result and in the DB.
func (w *Worker) processJob(ctx context.Context, job *domain.ScrapeJob, deepScrape bool) *JobResult {
	start := time.Now()
	result := &JobResult{JobID: job.ID, SourceID: job.SourceID}
	defer func() { result.DurationMs = time.Since(start).Milliseconds() }()

	source, err := w.sources.GetByID(ctx, job.SourceID)
	if err != nil {
		w.failJob(ctx, job, nil, domain.StageFetch, fmt.Errorf("load source: %w", err), result)
		return result
	}
	result.SourceName = source.Name

	outcome, page, requeued := w.extractListing(ctx, job, source, result)
	if requeued {
		result.Requeued = true
		return result
	}
	if outcome == nil {
		return result // failJob already recorded
	}
	result.Method = outcome.Method
	result.Scraped = len(outcome.Cards)
	w.metrics.EventsScrapedTotal.Add(float64(len(outcome.Cards)))
	w.metrics.FetchDurationSeconds.WithLabelValues(string(page.FetcherUsed)).
		Observe(page.Duration.Seconds())

	policy := source.Policy()
	for i := range outcome.Cards {
		card := outcome.Cards[i]
		var detailHTML string
		if deepScrape && policy.DeepScrape && card.DetailURL != "" && card.DetailPageTime == "" {
			detailHTML = w.deepScrapeDetail(ctx, job, source, &card)
		}
		w.processCard(ctx, source, page, outcome.Method, card, detailHTML, result)
	}

	if err := w.sources.UpdateStats(ctx, source.ID, result.Scraped, nil); err != nil {
		w.logger.Warn("failed to update source stats", "source_id", source.ID, "error", err)
	}
	if err := w.sources.ClearFailures(ctx, source.ID); err != nil {
		w.logger.Warn("failed to clear source failures", "source_id", source.ID, "error", err)
	}
	if err := w.jobs.Complete(ctx, job.ID, result.Scraped, result.Inserted); err != nil {
		w.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
		result.Error = err.Error()
		return result
	}

	w.metrics.JobsCompletedTotal.Inc()
	w.metrics.EventsInsertedTotal.Add(float64(result.Inserted))
	w.logger.Info("job completed",
		"job_id", job.ID,
		"source_id", source.ID,
		"method", result.Method,
		"scraped", result.Scraped,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"rejected", result.Rejected)
	return result
}

// extractListing fetches the listing page(s) and runs the waterfall,
// escalating through proxy retry and the heal path. Returns (nil, nil,
// true) when the job was requeued for a proxy retry and (nil, nil,
// false) after a recorded failure.
func (w *Worker) extractListing(ctx context.Context, job *domain.ScrapeJob, source *domain.Source, result *JobResult) (*extract.Outcome, *fetch.Result, bool) {
	forceProxy := job.Payload.ProxyRetry

	page, err := w.fetcher.Fetch(ctx, source, source.URL, forceProxy)
	if err != nil {
		var blocked *fetch.BlockedFetchError
		if errors.As(err, &blocked) && !forceProxy {
			if w.requeueForProxy(ctx, job, result) {
				return nil, nil, true
			}
		}
		w.failJob(ctx, job, source, domain.StageFetch, err, result)
		return nil, nil, false
	}

	outcome, runErr := w.extractor.Run(ctx, page.HTML, page.FinalURL, source)
	if runErr == nil {
		return outcome, page, false
	}
	if !errors.Is(runErr, extract.ErrNoCards) {
		w.failJob(ctx, job, source, domain.StageParse, runErr, result)
		return nil, nil, false
	}

	// Venue sources also publish feeds; guess the usual paths before
	// concluding the source drifted.
	if outcome, feedPage := w.tryFeedGuesses(ctx, source, forceProxy); outcome != nil {
		return outcome, feedPage, false
	}

	if len(page.HTML) >= HealMinHTMLBytes {
		if healed := w.healAndReparse(ctx, source, page); healed != nil {
			return healed, page, false
		}
	}

	if _, err := w.sources.BumpFailures(ctx, source.ID, w.cfg.QuarantineAt); err != nil {
		w.logger.Warn("failed to bump source failures", "source_id", source.ID, "error", err)
	}
	w.failJob(ctx, job, source, domain.StageParse, extract.ErrNoCards, result)
	return nil, nil, false
}

// requeueForProxy resets the job to pending with proxyRetry=true.
// Returns false when the one-shot guard already fired.
func (w *Worker) requeueForProxy(ctx context.Context, job *domain.ScrapeJob, result *JobResult) bool {
	if err := w.jobs.ResetForProxyRetry(ctx, job.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.logger.Error("failed to reset job for proxy retry", "job_id", job.ID, "error", err)
		}
		return false
	}
	w.metrics.JobsRequeuedTotal.WithLabelValues("proxy_retry").Inc()
	w.logger.Info("job requeued for proxy retry", "job_id", job.ID, "source_id", job.SourceID)
	result.Requeued = true
	return true
}

// tryFeedGuesses fetches the feed strategy's guessed URLs for sources
// whose tier allows it. Fetch errors on guesses are expected.
func (w *Worker) tryFeedGuesses(ctx context.Context, source *domain.Source, forceProxy bool) (*extract.Outcome, *fetch.Result) {
	if !source.Policy().FeedGuess {
		return nil, nil
	}
	feed := w.extractor.Strategy(domain.MethodFeed)
	if feed == nil {
		return nil, nil
	}

	pageFetcher := func(ctx context.Context, url string) (*fetch.Result, error) {
		return w.fetcher.Fetch(ctx, source, url, forceProxy)
	}
	urls, err := feed.DiscoverListingURLs(ctx, source, pageFetcher)
	if err != nil {
		return nil, nil
	}

	for _, u := range urls {
		if u == source.URL {
			continue
		}
		page, err := pageFetcher(ctx, u)
		if err != nil {
			continue
		}
		cards, err := feed.ParseListing(ctx, page.HTML, page.FinalURL,
			extract.Options{Source: source, BaseURL: page.FinalURL, Language: source.Language})
		if err != nil || len(cards) == 0 {
			continue
		}
		extract.ResolveCardURLs(cards, page.FinalURL)
		return &extract.Outcome{Cards: cards, Method: domain.MethodFeed}, page
	}
	return nil, nil
}

// healAndReparse handles "big page, zero cards": first the cheap
// fetcher flip, then AI selector repair. Returns the re-parse outcome
// when healing produced cards.
func (w *Worker) healAndReparse(ctx context.Context, source *domain.Source, page *fetch.Result) *extract.Outcome {
	strategy, switched, err := w.sources.CheckAndHealFetcher(ctx, source.ID)
	if err != nil {
		w.logger.Warn("fetcher heal check failed", "source_id", source.ID, "error", err)
	} else if switched {
		w.logger.Info("fetch strategy switched",
			"source_id", source.ID, "strategy", strategy)
		source.FetchStrategy = strategy
		if refetched, fetchErr := w.fetcher.Fetch(ctx, source, source.URL, false); fetchErr == nil {
			if outcome, runErr := w.extractor.Run(ctx, refetched.HTML, refetched.FinalURL, source); runErr == nil {
				w.metrics.HealAttemptsTotal.WithLabelValues("applied").Inc()
				return outcome
			}
		}
	}

	if w.healer == nil {
		return nil
	}

	suggestion, err := w.healer.SuggestSelectors(ctx, page.HTML, source.ExtractionConfig.Selectors)
	if err != nil {
		w.metrics.HealAttemptsTotal.WithLabelValues("failed").Inc()
		w.logger.Warn("selector suggestion failed", "source_id", source.ID, "error", err)
		return nil
	}

	oldConfig := source.ExtractionConfig
	newConfig := oldConfig
	newConfig.Selectors = suggestion.Selectors
	if err := w.sources.UpdateConfig(ctx, source.ID, newConfig); err != nil {
		w.metrics.HealAttemptsTotal.WithLabelValues("failed").Inc()
		w.logger.Error("failed to apply healed config", "source_id", source.ID, "error", err)
		return nil
	}
	source.ExtractionConfig = newConfig

	now := time.Now()
	repairLog := &domain.RepairLog{
		SourceID:         source.ID,
		TriggerReason:    "zero cards from non-empty page",
		RawHTMLSample:    page.HTML,
		AIDiagnosis:      suggestion.Diagnosis,
		OldConfig:        configMap(oldConfig),
		NewConfig:        configMap(newConfig),
		ValidationPassed: true,
		Applied:          true,
		AppliedAt:        &now,
	}
	if err := w.repairs.Insert(ctx, repairLog); err != nil {
		w.logger.Warn("failed to record repair log", "source_id", source.ID, "error", err)
	}

	outcome, runErr := w.extractor.Run(ctx, page.HTML, page.FinalURL, source)
	if runErr != nil {
		w.metrics.HealAttemptsTotal.WithLabelValues("rejected").Inc()
		return nil
	}
	w.metrics.HealAttemptsTotal.WithLabelValues("applied").Inc()
	w.logger.Info("selectors healed",
		"source_id", source.ID,
		"selectors", suggestion.Selectors,
		"cards", len(outcome.Cards))
	return outcome
}

// deepScrapeDetail opens the card's detail page looking for a start
// time the listing omitted. Sequential with the listing fetch, so the
// source's rate limit holds. Errors only cost us the time field.
func (w *Worker) deepScrapeDetail(ctx context.Context, job *domain.ScrapeJob, source *domain.Source, card *domain.RawEventCard) string {
	page, err := w.fetcher.Fetch(ctx, source, card.DetailURL, job.Payload.ProxyRetry)
	if err != nil {
		w.logger.Debug("detail page fetch failed",
			"source_id", source.ID, "url", card.DetailURL, "error", err)
		return ""
	}

	if t := normalize.ExtractTime(page.HTML); t != normalize.TimeTBD {
		card.DetailPageTime = t
	}
	return page.HTML
}

// processCard stages, normalizes, dedups and inserts one card.
func (w *Worker) processCard(ctx context.Context, source *domain.Source, page *fetch.Result,
	method domain.ParsingMethod, card domain.RawEventCard, detailHTML string, result *JobResult) {

	staged := stagingRow(source, page, method, card, detailHTML)
	if err := w.staging.Insert(ctx, staged); err != nil {
		w.logger.Warn("failed to stage card", "source_id", source.ID, "error", err)
		staged = nil
	}

	event, err := w.normalizer.Normalize(ctx, card, source)
	if err != nil {
		result.Rejected++
		w.metrics.EventsRejectedTotal.WithLabelValues(rejectionReason(err)).Inc()
		w.logger.Debug("card rejected",
			"source_id", source.ID, "title", card.Title, "reason", err)
		w.settleStaging(ctx, staged, domain.StagingFailed)
		return
	}

	verdict, err := w.deduper.Check(ctx, event)
	if err != nil {
		result.Rejected++
		w.logger.Warn("dedup check failed",
			"source_id", source.ID, "title", event.Title, "error", err)
		w.settleStaging(ctx, staged, domain.StagingFailed)
		return
	}
	if verdict.Duplicate {
		result.Duplicates++
		w.metrics.EventsDuplicateTotal.WithLabelValues(string(verdict.Level)).Inc()
		w.settleStaging(ctx, staged, domain.StagingCompleted)
		return
	}

	if err := w.events.Insert(ctx, toEvent(event, verdict)); err != nil {
		if errors.Is(err, database.ErrDuplicateEvent) {
			// Lost the unique-constraint race; the constraint is authoritative.
			result.Duplicates++
			w.metrics.EventsDuplicateTotal.WithLabelValues(string(dedup.LevelContentHash)).Inc()
			w.settleStaging(ctx, staged, domain.StagingCompleted)
			return
		}
		result.Rejected++
		w.logger.Error("event insert failed",
			"source_id", source.ID, "title", event.Title, "error", err)
		w.settleStaging(ctx, staged, domain.StagingFailed)
		return
	}

	result.Inserted++
	status := domain.StagingCompleted
	if w.cfg.EnrichStaged {
		status = domain.StagingAwaitingEnrichment
	}
	w.settleStaging(ctx, staged, status)
}

func (w *Worker) settleStaging(ctx context.Context, staged *domain.RawEventStaging, status string) {
	if staged == nil {
		return
	}
	if err := w.staging.UpdateStatus(ctx, staged.ID, status); err != nil {
		w.logger.Warn("failed to settle staging row", "staging_id", staged.ID, "error", err)
	}
}

// failJob records a terminal failure everywhere it matters: the job
// row, the source's error counters, and the dead-letter queue.
func (w *Worker) failJob(ctx context.Context, job *domain.ScrapeJob, source *domain.Source,
	stage domain.FailureStage, cause error, result *JobResult) {

	result.Error = cause.Error()
	w.metrics.JobsFailedTotal.Inc()

	if err := w.jobs.Fail(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	if source != nil {
		if err := w.sources.UpdateStats(ctx, source.ID, 0, cause); err != nil {
			w.logger.Warn("failed to update source stats", "source_id", source.ID, "error", err)
		}
	}
	if err := w.dlq.Push(ctx, job, stage, cause); err != nil {
		w.logger.Error("failed to push dead letter item", "job_id", job.ID, "error", err)
	}

	w.logger.Error("job failed",
		"job_id", job.ID,
		"source_id", job.SourceID,
		"stage", stage,
		"error", cause)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, normalize.ErrMissingTitle):
		return "missing_title"
	case errors.Is(err, normalize.ErrBadDate):
		return "bad_date"
	case errors.Is(err, normalize.ErrWrongYear):
		return "wrong_year"
	default:
		return "other"
	}
}

func stagingRow(source *domain.Source, page *fetch.Result, method domain.ParsingMethod,
	card domain.RawEventCard, detailHTML string) *domain.RawEventStaging {

	row := &domain.RawEventStaging{
		SourceID:         source.ID,
		Status:           domain.StagingPending,
		SourceURL:        page.FinalURL,
		RawHTML:          card.RawHTML,
		ParsingMethod:    method,
		Title:            optional(card.Title),
		EventDate:        optional(card.Date),
		EventTime:        optional(card.DetailPageTime),
		Location:         optional(card.Location),
		Description:      optional(card.Description),
		ImageURL:         optional(card.ImageURL),
		DetailURL:        optional(card.DetailURL),
		QualityScore:     card.Completeness(),
		DataCompleteness: card.Completeness(),
	}
	if detailHTML != "" {
		row.DetailHTML = &detailHTML
	}
	return row
}

func toEvent(ne *domain.NormalizedEvent, verdict *dedup.Verdict) *domain.Event {
	date, _ := time.Parse("2006-01-02", ne.EventDate)
	ev := &domain.Event{
		Title:            ne.Title,
		Description:      ne.Description,
		Category:         ne.Category,
		EventType:        domain.EventAnchor,
		VenueName:        ne.VenueName,
		Lat:              ne.Lat,
		Lng:              ne.Lng,
		EventDate:        date,
		EventTime:        ne.EventTime,
		SourceID:         ne.SourceID,
		EventFingerprint: ne.Fingerprint(),
		ContentHash:      ne.ContentHash(),
		Status:           "active",
	}
	if ne.ImageURL != "" {
		ev.ImageURL = &ne.ImageURL
	}
	if verdict.Embedding != nil {
		ev.Embedding = verdict.Embedding
		model := verdict.EmbeddingModel
		ev.EmbeddingModel = &model
	}
	return ev
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func configMap(cfg domain.ExtractionConfig) domain.JSONBMap {
	data, err := json.Marshal(cfg)
	if err != nil {
		return domain.JSONBMap{}
	}
	m := domain.JSONBMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.JSONBMap{}
	}
	return m
}
