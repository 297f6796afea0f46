package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/dedup"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/extract"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
	"github.com/stadspuls/eventpipe/internal/notify"
	"github.com/stadspuls/eventpipe/internal/worker"
)

type fakeJobs struct {
	jobs       []*domain.ScrapeJob
	completed  map[string][2]int
	failed     map[string]string
	proxyReset []string
	resetErr   error
	pending    int
}

func newFakeJobs(jobs ...*domain.ScrapeJob) *fakeJobs {
	return &fakeJobs{jobs: jobs, completed: map[string][2]int{}, failed: map[string]string{}}
}

func (f *fakeJobs) Claim(_ context.Context, _ int) ([]*domain.ScrapeJob, error) {
	return f.jobs, nil
}

func (f *fakeJobs) Complete(_ context.Context, id string, scraped, inserted int) error {
	f.completed[id] = [2]int{scraped, inserted}
	return nil
}

func (f *fakeJobs) Fail(_ context.Context, id, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobs) ResetForProxyRetry(_ context.Context, id string) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.proxyReset = append(f.proxyReset, id)
	return nil
}

func (f *fakeJobs) ReapStale(_ context.Context, _ time.Duration) (int64, error) { return 0, nil }
func (f *fakeJobs) CountPending(_ context.Context) (int, error)                 { return f.pending, nil }

type statsCall struct {
	sourceID string
	scraped  int
	err      error
}

type fakeSources struct {
	src        *domain.Source
	stats      []statsCall
	bumped     int
	cleared    int
	updatedCfg *domain.ExtractionConfig
	healSwitch bool
}

func (f *fakeSources) GetByID(_ context.Context, _ string) (*domain.Source, error) {
	return f.src, nil
}

func (f *fakeSources) UpdateStats(_ context.Context, id string, scraped int, runErr error) error {
	f.stats = append(f.stats, statsCall{sourceID: id, scraped: scraped, err: runErr})
	return nil
}

func (f *fakeSources) BumpFailures(_ context.Context, _ string, _ int) (int, error) {
	f.bumped++
	return f.bumped, nil
}

func (f *fakeSources) ClearFailures(_ context.Context, _ string) error {
	f.cleared++
	return nil
}

func (f *fakeSources) UpdateConfig(_ context.Context, _ string, cfg domain.ExtractionConfig) error {
	f.updatedCfg = &cfg
	return nil
}

func (f *fakeSources) CheckAndHealFetcher(_ context.Context, _ string) (domain.FetchStrategy, bool, error) {
	if f.healSwitch {
		return domain.FetchHeadless, true, nil
	}
	return f.src.FetchStrategy, false, nil
}

type fetchCall struct {
	url        string
	forceProxy bool
}

type fakeFetcher struct {
	pages map[string]*fetch.Result
	errs  map[string]error
	calls []fetchCall
}

func (f *fakeFetcher) Fetch(_ context.Context, _ *domain.Source, url string, forceProxy bool) (*fetch.Result, error) {
	f.calls = append(f.calls, fetchCall{url: url, forceProxy: forceProxy})
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("no page for %s", url)
}

type extractResp struct {
	outcome *extract.Outcome
	err     error
}

type fakeExtractor struct {
	responses []extractResp
	calls     int
}

func (f *fakeExtractor) Run(_ context.Context, _, _ string, _ *domain.Source) (*extract.Outcome, error) {
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return resp.outcome, resp.err
}

func (f *fakeExtractor) Strategy(_ domain.ParsingMethod) extract.Strategy { return nil }

type fakeNormalizer struct {
	seen []domain.RawEventCard
	err  error
}

func (f *fakeNormalizer) Normalize(_ context.Context, card domain.RawEventCard, source *domain.Source) (*domain.NormalizedEvent, error) {
	f.seen = append(f.seen, card)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.NormalizedEvent{
		Title:     card.Title,
		EventDate: "2026-05-20",
		EventTime: "20:00",
		Category:  domain.CategoryCommunity,
		VenueName: source.Name,
		SourceID:  source.ID,
	}, nil
}

type fakeDeduper struct {
	verdict dedup.Verdict
}

func (f *fakeDeduper) Check(_ context.Context, _ *domain.NormalizedEvent) (*dedup.Verdict, error) {
	v := f.verdict
	return &v, nil
}

type fakeEvents struct {
	inserted []*domain.Event
	err      error
}

func (f *fakeEvents) Insert(_ context.Context, ev *domain.Event) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, ev)
	return nil
}

type fakeStaging struct {
	rows     []*domain.RawEventStaging
	statuses map[string]string
}

func newFakeStaging() *fakeStaging { return &fakeStaging{statuses: map[string]string{}} }

func (f *fakeStaging) Insert(_ context.Context, row *domain.RawEventStaging) error {
	row.ID = fmt.Sprintf("stg-%d", len(f.rows)+1)
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeStaging) UpdateStatus(_ context.Context, id, status string) error {
	f.statuses[id] = status
	return nil
}

type fakeRepairs struct{ logs []*domain.RepairLog }

func (f *fakeRepairs) Insert(_ context.Context, log *domain.RepairLog) error {
	f.logs = append(f.logs, log)
	return nil
}

type dlqPush struct {
	jobID string
	stage domain.FailureStage
}

type fakeDLQ struct{ pushes []dlqPush }

func (f *fakeDLQ) Push(_ context.Context, job *domain.ScrapeJob, stage domain.FailureStage, _ error) error {
	f.pushes = append(f.pushes, dlqPush{jobID: job.ID, stage: stage})
	return nil
}

type fakeHealer struct {
	suggestion *ai.RepairSuggestion
	err        error
}

func (f *fakeHealer) SuggestSelectors(_ context.Context, _ string, _ []string) (*ai.RepairSuggestion, error) {
	return f.suggestion, f.err
}

type fakeNotifier struct{ summaries []notify.RunSummary }

func (f *fakeNotifier) RunCompleted(_ context.Context, s notify.RunSummary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

type fakeWaker struct{ urls []string }

func (f *fakeWaker) Wake(url string) { f.urls = append(f.urls, url) }

// env bundles the fakes behind one worker instance.
type env struct {
	jobs      *fakeJobs
	sources   *fakeSources
	events    *fakeEvents
	staging   *fakeStaging
	repairs   *fakeRepairs
	dlq       *fakeDLQ
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	norm      *fakeNormalizer
	dedup     *fakeDeduper
	healer    *fakeHealer
	notifier  *fakeNotifier
	waker     *fakeWaker
	cfg       worker.Config
}

func newEnv(job *domain.ScrapeJob, src *domain.Source) *env {
	return &env{
		jobs:      newFakeJobs(job),
		sources:   &fakeSources{src: src},
		events:    &fakeEvents{},
		staging:   newFakeStaging(),
		repairs:   &fakeRepairs{},
		dlq:       &fakeDLQ{},
		fetcher:   &fakeFetcher{pages: map[string]*fetch.Result{}, errs: map[string]error{}},
		extractor: &fakeExtractor{},
		norm:      &fakeNormalizer{},
		dedup:     &fakeDeduper{},
		healer:    &fakeHealer{},
		notifier:  &fakeNotifier{},
		waker:     &fakeWaker{},
		cfg:       worker.Config{BatchSize: 20, QuarantineAt: 3},
	}
}

func (e *env) build() *worker.Worker {
	return worker.New(e.jobs, e.sources, e.events, e.staging, e.repairs, e.dlq,
		e.fetcher, e.extractor, e.norm, e.dedup, e.healer, e.notifier, e.waker,
		metrics.New(prometheus.NewRegistry()), e.cfg, logger.NewNop())
}

func testJob() *domain.ScrapeJob {
	return &domain.ScrapeJob{ID: "job-1", SourceID: "src-1", Status: domain.JobRunning, Attempts: 1, MaxAttempts: 3}
}

func testSource() *domain.Source {
	return &domain.Source{
		ID:            "src-1",
		Name:          "Paradiso",
		URL:           "https://paradiso.example/agenda",
		Tier:          domain.TierAggregator,
		Enabled:       true,
		FetchStrategy: domain.FetchStatic,
		Language:      "nl",
	}
}

func listingPage(url, html string) *fetch.Result {
	return &fetch.Result{HTML: html, StatusCode: 200, FinalURL: url, FetcherUsed: domain.FetchStatic, Duration: 120 * time.Millisecond}
}

func cards(n int) []domain.RawEventCard {
	out := make([]domain.RawEventCard, n)
	for i := range out {
		out[i] = domain.RawEventCard{
			Title:   fmt.Sprintf("Concert %d", i+1),
			Date:    "2026-05-20",
			RawHTML: "<article>card</article>",
		}
	}
	return out
}

func TestDrainHappyPath(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: cards(3), Method: domain.MethodJSONLD}}}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Completed)
	assert.True(t, result.AllSucceeded())
	assert.Equal(t, [2]int{3, 3}, e.jobs.completed["job-1"])
	assert.Len(t, e.events.inserted, 3)
	assert.Equal(t, domain.MethodJSONLD, result.Results[0].Method)

	// success resets the source's error counters
	require.Len(t, e.sources.stats, 1)
	assert.NoError(t, e.sources.stats[0].err)
	assert.Equal(t, 3, e.sources.stats[0].scraped)
	assert.Equal(t, 1, e.sources.cleared)

	// every card was staged and settled
	require.Len(t, e.staging.rows, 3)
	for _, row := range e.staging.rows {
		assert.Equal(t, domain.StagingCompleted, e.staging.statuses[row.ID])
	}

	require.Len(t, e.notifier.summaries, 1)
	assert.Equal(t, 3, e.notifier.summaries[0].Inserted)
}

func TestDrainParksStagedRowsForEnrichment(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.cfg.EnrichStaged = true
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: cards(2), Method: domain.MethodJSONLD}}}

	result, err := e.build().Drain(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.AllSucceeded())

	require.Len(t, e.staging.rows, 2)
	for _, row := range e.staging.rows {
		assert.Equal(t, domain.StagingAwaitingEnrichment, e.staging.statuses[row.ID])
	}
}

func TestDrainAllDuplicates(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: cards(3), Method: domain.MethodJSONLD}}}
	e.dedup.verdict = dedup.Verdict{Duplicate: true, Level: dedup.LevelFingerprint}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 3, result.Results[0].Duplicates)
	assert.Empty(t, e.events.inserted)
	assert.Equal(t, [2]int{3, 0}, e.jobs.completed["job-1"])
}

func TestBlockedFetchRequeuesForProxy(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.fetcher.errs[src.URL] = &fetch.BlockedFetchError{URL: src.URL, StatusCode: 403}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Requeued)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"job-1"}, e.jobs.proxyReset)
	assert.Empty(t, e.jobs.failed)
	assert.Empty(t, e.dlq.pushes)
}

func TestBlockedFetchOnProxyPassFails(t *testing.T) {
	job := testJob()
	job.Payload.ProxyRetry = true
	src := testSource()
	e := newEnv(job, src)
	e.fetcher.errs[src.URL] = &fetch.BlockedFetchError{URL: src.URL, StatusCode: 403}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, e.jobs.proxyReset)
	assert.Contains(t, e.jobs.failed, "job-1")
	require.Len(t, e.dlq.pushes, 1)
	assert.Equal(t, domain.StageFetch, e.dlq.pushes[0].stage)

	// the fetch itself went through the proxy
	require.NotEmpty(t, e.fetcher.calls)
	assert.True(t, e.fetcher.calls[0].forceProxy)
}

func TestZeroCardsHealsSelectorsAndReparses(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	bigPage := "<html>" + strings.Repeat("x", worker.HealMinHTMLBytes) + "</html>"
	e.fetcher.pages[src.URL] = listingPage(src.URL, bigPage)
	e.extractor.responses = []extractResp{
		{err: extract.ErrNoCards},
		{outcome: &extract.Outcome{Cards: cards(4), Method: domain.MethodDOM}},
	}
	e.healer.suggestion = &ai.RepairSuggestion{
		Diagnosis:  "event cards moved to .agenda-card",
		Selectors:  []string{".agenda-card", "article.event"},
		Confidence: 0.9,
	}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, [2]int{4, 4}, e.jobs.completed["job-1"])

	require.NotNil(t, e.sources.updatedCfg)
	assert.Equal(t, []string{".agenda-card", "article.event"}, e.sources.updatedCfg.Selectors)

	require.Len(t, e.repairs.logs, 1)
	assert.True(t, e.repairs.logs[0].Applied)
	assert.NotNil(t, e.repairs.logs[0].AppliedAt)
}

func TestZeroCardsOnSmallPageSkipsHealing(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>tiny</html>")
	e.extractor.responses = []extractResp{{err: extract.ErrNoCards}}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, e.sources.bumped)
	assert.Empty(t, e.repairs.logs)
	require.Len(t, e.dlq.pushes, 1)
	assert.Equal(t, domain.StageParse, e.dlq.pushes[0].stage)
}

func TestDeepScrapeFillsDetailTime(t *testing.T) {
	src := testSource()
	src.Tier = domain.TierVenue // deep scrape enabled
	e := newEnv(testJob(), src)

	card := domain.RawEventCard{
		Title:     "Late Night Jazz",
		Date:      "2026-05-20",
		DetailURL: "https://paradiso.example/event/jazz",
		RawHTML:   "<article>jazz</article>",
	}
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.fetcher.pages[card.DetailURL] = listingPage(card.DetailURL, "<p>Aanvang 20:30</p>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: []domain.RawEventCard{card}, Method: domain.MethodDOM}}}

	_, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, e.norm.seen, 1)
	assert.Equal(t, "20:30", e.norm.seen[0].DetailPageTime)

	require.Len(t, e.staging.rows, 1)
	require.NotNil(t, e.staging.rows[0].DetailHTML)
}

func TestDeepScrapeDisabledByRequest(t *testing.T) {
	src := testSource()
	src.Tier = domain.TierVenue
	e := newEnv(testJob(), src)

	card := domain.RawEventCard{Title: "Jazz", Date: "2026-05-20", DetailURL: "https://paradiso.example/event/jazz", RawHTML: "x"}
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: []domain.RawEventCard{card}, Method: domain.MethodDOM}}}

	_, err := e.build().Drain(context.Background(), false)
	require.NoError(t, err)

	for _, call := range e.fetcher.calls {
		assert.NotEqual(t, card.DetailURL, call.url)
	}
}

func TestChainTriggerOnFullBatchWithPending(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.cfg = worker.Config{BatchSize: 1, QuarantineAt: 3, SelfURL: "http://localhost:8080/worker"}
	e.jobs.pending = 5
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: cards(1), Method: domain.MethodDOM}}}

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 5, result.PendingRemaining)
	assert.Equal(t, []string{"http://localhost:8080/worker"}, e.waker.urls)
}

func TestRejectedCardsDoNotFailTheJob(t *testing.T) {
	src := testSource()
	e := newEnv(testJob(), src)
	e.fetcher.pages[src.URL] = listingPage(src.URL, "<html>agenda</html>")
	e.extractor.responses = []extractResp{{outcome: &extract.Outcome{Cards: cards(2), Method: domain.MethodDOM}}}
	e.norm.err = fmt.Errorf("wrapped: %w", errors.New("bad")) // every card rejected

	result, err := e.build().Drain(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 2, result.Results[0].Rejected)
	assert.Equal(t, [2]int{2, 0}, e.jobs.completed["job-1"])
}
