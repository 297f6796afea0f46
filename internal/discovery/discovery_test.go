package discovery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/discovery"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
)

type fakeJobs struct {
	job       *domain.DiscoveryJob
	completed [2]int
	failed    bool
	pending   int
}

func (f *fakeJobs) ClaimNext(_ context.Context, _ string) (*domain.DiscoveryJob, error) {
	if f.job == nil {
		return nil, domain.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobs) Complete(_ context.Context, _ string, found, added int) error {
	f.completed = [2]int{found, added}
	return nil
}

func (f *fakeJobs) Fail(_ context.Context, _ string) error {
	f.failed = true
	return nil
}

func (f *fakeJobs) CountPending(_ context.Context, _ string) (int, error) {
	return f.pending, nil
}

type fakeSources struct{ upserted []*domain.Source }

func (f *fakeSources) Upsert(_ context.Context, src *domain.Source) (string, bool, error) {
	f.upserted = append(f.upserted, src)
	return "src-new", true, nil
}

type fakeSearcher struct{ hits []discovery.Hit }

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]discovery.Hit, error) {
	return f.hits, nil
}

type fakeFetcher struct{ pages map[string]string }

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ map[string]string) (*fetch.Result, error) {
	if html, ok := f.pages[url]; ok {
		return &fetch.Result{HTML: html, StatusCode: 200, FinalURL: url}, nil
	}
	return nil, assert.AnError
}

func (f *fakeFetcher) Strategy() domain.FetchStrategy { return domain.FetchStatic }

type fakeValidator struct {
	verdicts map[string]*ai.SourceValidation
}

func (f *fakeValidator) ValidateSource(_ context.Context, _, url, _ string) (*ai.SourceValidation, error) {
	if v, ok := f.verdicts[url]; ok {
		return v, nil
	}
	return &ai.SourceValidation{IsValid: false}, nil
}

type fakeWaker struct{ urls []string }

func (f *fakeWaker) Wake(url string) { f.urls = append(f.urls, url) }

const agendaHTML = `<html><h1>Uitagenda Zwolle</h1><p>Evenementen op 12 juni 2026</p></html>`

func TestCanonicalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://www.zwolle.nl/agenda/":     "https://www.zwolle.nl/agenda",
		"https://Zwolle.NL/agenda#vandaag":  "https://zwolle.nl/agenda",
		"http://uitinzwolle.nl/evenementen": "http://uitinzwolle.nl/evenementen",
		"https://uitinzwolle.nl/":           "https://uitinzwolle.nl",
	}
	for raw, want := range cases {
		got, ok := discovery.CanonicalizeURL(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got)
	}

	_, ok := discovery.CanonicalizeURL("ftp://example.nl/agenda")
	assert.False(t, ok)
	_, ok = discovery.CanonicalizeURL("not a url at all\n")
	assert.False(t, ok)
}

func TestIsNoiseDomain(t *testing.T) {
	assert.True(t, discovery.IsNoiseDomain("https://facebook.com/events/123"))
	assert.True(t, discovery.IsNoiseDomain("https://www.eventbrite.nl/zwolle"))
	assert.True(t, discovery.IsNoiseDomain("https://nl-nl.facebook.com/events"))
	assert.False(t, discovery.IsNoiseDomain("https://uitinzwolle.nl/agenda"))
}

func TestLooksLikeAgenda(t *testing.T) {
	assert.True(t, discovery.LooksLikeAgenda(agendaHTML))
	assert.False(t, discovery.LooksLikeAgenda("<html>Welkom bij de bakkerij</html>"))
	// mentions events but carries no dates
	assert.False(t, discovery.LooksLikeAgenda("<html>evenementenbureau</html>"))
}

func TestRunValidatesAndUpsertsCandidates(t *testing.T) {
	jobs := &fakeJobs{job: &domain.DiscoveryJob{ID: "dj-1", Municipality: "Zwolle"}}
	sources := &fakeSources{}
	searcher := &fakeSearcher{hits: []discovery.Hit{
		{Link: "https://uitinzwolle.nl/agenda/"},
		{Link: "https://facebook.com/events/zwolle"}, // noise
		{Link: "https://bakkerij.nl/"},               // not an agenda
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://uitinzwolle.nl/agenda": agendaHTML,
		"https://bakkerij.nl":           "<html>brood</html>",
	}}
	validator := &fakeValidator{verdicts: map[string]*ai.SourceValidation{
		"https://uitinzwolle.nl/agenda": {IsValid: true, Confidence: 95, SuggestedName: "Uit in Zwolle"},
	}}

	svc := discovery.New(jobs, sources, searcher, fetcher, validator, &fakeWaker{}, "", logger.NewNop())
	result, err := svc.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.SourcesFound)
	assert.Equal(t, 1, result.SourcesAdded)
	assert.Equal(t, [2]int{1, 1}, jobs.completed)

	require.Len(t, sources.upserted, 1)
	src := sources.upserted[0]
	assert.Equal(t, "Uit in Zwolle", src.Name)
	assert.True(t, src.Enabled) // confidence 95 > 90
	assert.Equal(t, "Zwolle", src.LocationName)
}

func TestRunLowConfidenceInsertsDisabled(t *testing.T) {
	jobs := &fakeJobs{job: &domain.DiscoveryJob{ID: "dj-1", Municipality: "Zwolle"}}
	sources := &fakeSources{}
	searcher := &fakeSearcher{hits: []discovery.Hit{{Link: "https://uitinzwolle.nl/agenda"}}}
	fetcher := &fakeFetcher{pages: map[string]string{"https://uitinzwolle.nl/agenda": agendaHTML}}
	validator := &fakeValidator{verdicts: map[string]*ai.SourceValidation{
		"https://uitinzwolle.nl/agenda": {IsValid: true, Confidence: 70},
	}}

	svc := discovery.New(jobs, sources, searcher, fetcher, validator, &fakeWaker{}, "", logger.NewNop())
	result, err := svc.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.SourcesAdded)
	require.Len(t, sources.upserted, 1)
	assert.False(t, sources.upserted[0].Enabled)
	// no suggested name, falls back to the host
	assert.Equal(t, "uitinzwolle.nl", sources.upserted[0].Name)
}

func TestRunNoPendingJobs(t *testing.T) {
	svc := discovery.New(&fakeJobs{}, &fakeSources{}, &fakeSearcher{}, &fakeFetcher{}, nil, &fakeWaker{}, "", logger.NewNop())
	result, err := svc.Run(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.NoJob)
}

func TestRunSelfChainsWhilePending(t *testing.T) {
	jobs := &fakeJobs{job: &domain.DiscoveryJob{ID: "dj-1", Municipality: "Zwolle"}, pending: 2}
	waker := &fakeWaker{}
	svc := discovery.New(jobs, &fakeSources{}, &fakeSearcher{}, &fakeFetcher{}, nil, waker,
		"http://localhost:8080/discovery-worker", logger.NewNop())

	result, err := svc.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.PendingRemaining)
	assert.Equal(t, []string{"http://localhost:8080/discovery-worker"}, waker.urls)
}

func TestSerperClientParsesOrganicHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[{"title":"Uitagenda","link":"https://uitinzwolle.nl/agenda","snippet":"..."}]}`))
	}))
	defer srv.Close()

	client := discovery.NewSerperClient("test-key", 5*time.Second, logger.NewNop())
	client.SetEndpoint(srv.URL)

	hits, err := client.Search(context.Background(), "uitagenda zwolle")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://uitinzwolle.nl/agenda", hits[0].Link)
}

func TestSerperClientRequiresKey(t *testing.T) {
	client := discovery.NewSerperClient("", time.Second, logger.NewNop())
	_, err := client.Search(context.Background(), "uitagenda zwolle")
	assert.Error(t, err)
}
