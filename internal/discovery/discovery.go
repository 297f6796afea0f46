// Package discovery finds agenda sources for a municipality: search,
// noise filtering, heuristic checks and LLM validation.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
)

// AutoEnableConfidence is the validator confidence above which a new
// source starts enabled. Anything at or below is inserted disabled for
// operator review.
const AutoEnableConfidence = 90

// validationSampleLimit caps the HTML handed to the validator LLM.
const validationSampleLimit = 10000

// maxCandidatesPerJob bounds validation cost per discovery job.
const maxCandidatesPerJob = 15

// queryTemplates are the Dutch search queries issued per municipality.
var queryTemplates = []string{
	"uitagenda %s",
	"evenementen %s",
	"agenda %s dit weekend",
	"wat te doen in %s",
}

// noiseDomains never host a scrapeable municipal agenda.
var noiseDomains = []string{
	"facebook.com", "instagram.com", "linkedin.com", "x.com", "twitter.com",
	"youtube.com", "tiktok.com", "pinterest.com",
	"tripadvisor.com", "tripadvisor.nl", "booking.com", "airbnb.com",
	"eventbrite.com", "eventbrite.nl", "ticketmaster.nl", "ticketswap.nl",
	"google.com", "wikipedia.org", "marktplaats.nl", "funda.nl",
}

var dateTokenRe = regexp.MustCompile(`(?i)\b(\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}-\d{2}-\d{2}|` +
	`jan(uari)?|feb(ruari)?|maart|apr(il)?|mei|jun[i]?|jul[i]?|aug(ustus)?|` +
	`sep(tember)?|okt(ober)?|nov(ember)?|dec(ember)?)\b`)

// Searcher issues one search query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Hit, error)
}

// Validator is the LLM verdict on a candidate page.
type Validator interface {
	ValidateSource(ctx context.Context, municipality, url, htmlSample string) (*ai.SourceValidation, error)
}

// JobStore claims and settles discovery jobs.
type JobStore interface {
	ClaimNext(ctx context.Context, batchID string) (*domain.DiscoveryJob, error)
	Complete(ctx context.Context, id string, found, added int) error
	Fail(ctx context.Context, id string) error
	CountPending(ctx context.Context, batchID string) (int, error)
}

// SourceStore upserts discovered sources.
type SourceStore interface {
	Upsert(ctx context.Context, src *domain.Source) (string, bool, error)
}

// Waker self-chains to the next pending job.
type Waker interface {
	Wake(url string)
}

// Service processes discovery jobs, one per invocation.
type Service struct {
	jobs     JobStore
	sources  SourceStore
	searcher Searcher
	fetcher  fetch.Fetcher
	validate Validator
	waker    Waker
	selfURL  string
	logger   logger.Interface
}

// New creates a discovery service. validate may be nil; candidates are
// then inserted disabled on heuristics alone.
func New(jobs JobStore, sources SourceStore, searcher Searcher, fetcher fetch.Fetcher,
	validate Validator, waker Waker, selfURL string, log logger.Interface) *Service {
	return &Service{
		jobs:     jobs,
		sources:  sources,
		searcher: searcher,
		fetcher:  fetcher,
		validate: validate,
		waker:    waker,
		selfURL:  selfURL,
		logger:   log,
	}
}

// RunResult summarizes one discovery invocation.
type RunResult struct {
	Job              *domain.DiscoveryJob `json:"job,omitempty"`
	NoJob            bool                 `json:"no_job"`
	SourcesFound     int                  `json:"sources_found"`
	SourcesAdded     int                  `json:"sources_added"`
	PendingRemaining int                  `json:"pending_remaining"`
}

// Run claims one pending discovery job and processes it end to end.
func (s *Service) Run(ctx context.Context, batchID string) (*RunResult, error) {
	job, err := s.jobs.ClaimNext(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &RunResult{NoJob: true}, nil
		}
		return nil, err
	}

	result := &RunResult{Job: job}
	candidates, err := s.collectCandidates(ctx, job.Municipality)
	if err != nil {
		if failErr := s.jobs.Fail(ctx, job.ID); failErr != nil {
			s.logger.Error("failed to mark discovery job failed", "job_id", job.ID, "error", failErr)
		}
		return nil, fmt.Errorf("discovery for %s failed: %w", job.Municipality, err)
	}

	for _, candidate := range candidates {
		valid, added := s.examine(ctx, job, candidate)
		if valid {
			result.SourcesFound++
		}
		if added {
			result.SourcesAdded++
		}
	}

	if err := s.jobs.Complete(ctx, job.ID, result.SourcesFound, result.SourcesAdded); err != nil {
		return nil, err
	}
	job.Status = domain.DiscoveryCompleted
	job.SourcesFound = result.SourcesFound
	job.SourcesAdded = result.SourcesAdded

	pending, err := s.jobs.CountPending(ctx, batchID)
	if err != nil {
		s.logger.Warn("failed to count pending discovery jobs", "error", err)
	}
	result.PendingRemaining = pending
	if pending > 0 && s.selfURL != "" {
		s.waker.Wake(s.selfURL)
	}

	s.logger.Info("discovery job completed",
		"municipality", job.Municipality,
		"found", result.SourcesFound,
		"added", result.SourcesAdded,
		"pending_remaining", pending)
	return result, nil
}

// collectCandidates searches all query templates and returns filtered,
// canonicalized, deduplicated URLs.
func (s *Service) collectCandidates(ctx context.Context, municipality string) ([]string, error) {
	seen := map[string]bool{}
	var candidates []string
	var lastErr error
	succeeded := 0

	for _, tmpl := range queryTemplates {
		hits, err := s.searcher.Search(ctx, fmt.Sprintf(tmpl, municipality))
		if err != nil {
			lastErr = err
			s.logger.Warn("search query failed", "municipality", municipality, "error", err)
			continue
		}
		succeeded++

		for _, hit := range hits {
			canonical, ok := CanonicalizeURL(hit.Link)
			if !ok || seen[canonical] || IsNoiseDomain(canonical) {
				continue
			}
			seen[canonical] = true
			candidates = append(candidates, canonical)
		}
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("all search queries failed: %w", lastErr)
	}
	if len(candidates) > maxCandidatesPerJob {
		candidates = candidates[:maxCandidatesPerJob]
	}
	return candidates, nil
}

// examine fetches and validates one candidate and upserts it when it
// looks like an agenda. Returns (valid, newly added).
func (s *Service) examine(ctx context.Context, job *domain.DiscoveryJob, candidateURL string) (bool, bool) {
	page, err := s.fetcher.Fetch(ctx, candidateURL, nil)
	if err != nil {
		s.logger.Debug("candidate fetch failed", "url", candidateURL, "error", err)
		return false, false
	}
	if !LooksLikeAgenda(page.HTML) {
		return false, false
	}

	name := hostFor(candidateURL)
	confidence := 0
	if s.validate != nil {
		sample := domain.TruncateUTF8(page.HTML, validationSampleLimit)
		validation, err := s.validate.ValidateSource(ctx, job.Municipality, candidateURL, sample)
		if err != nil {
			s.logger.Warn("candidate validation failed", "url", candidateURL, "error", err)
			return false, false
		}
		if !validation.IsValid {
			return false, false
		}
		confidence = validation.Confidence
		if validation.SuggestedName != "" {
			name = validation.SuggestedName
		}
	}

	src := &domain.Source{
		Name:            name,
		URL:             candidateURL,
		Tier:            domain.TierGeneral,
		Enabled:         confidence > AutoEnableConfidence,
		FetchStrategy:   domain.FetchStatic,
		LocationName:    job.Municipality,
		Language:        "nl",
		VolatilityScore: 0.5,
		DefaultLat:      job.Lat,
		DefaultLng:      job.Lng,
	}
	_, inserted, err := s.sources.Upsert(ctx, src)
	if err != nil {
		s.logger.Error("failed to upsert discovered source", "url", candidateURL, "error", err)
		return true, false
	}
	if inserted {
		s.logger.Info("source discovered",
			"municipality", job.Municipality,
			"url", candidateURL,
			"name", name,
			"confidence", confidence,
			"enabled", src.Enabled)
	}
	return true, inserted
}

// CanonicalizeURL normalizes a candidate URL: https/http only, host
// lowercased, fragment dropped, trailing slash stripped.
func CanonicalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), true
}

// IsNoiseDomain reports whether the URL's host is on the noise list.
func IsNoiseDomain(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return true
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	for _, noise := range noiseDomains {
		if host == noise || strings.HasSuffix(host, "."+noise) {
			return true
		}
	}
	return false
}

// LooksLikeAgenda is the cheap pre-LLM filter: the page must mention
// events or an agenda and contain at least one date token.
func LooksLikeAgenda(html string) bool {
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "agenda") &&
		!strings.Contains(lower, "evenement") &&
		!strings.Contains(lower, "event") {
		return false
	}
	return dateTokenRe.MatchString(lower)
}

func hostFor(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
