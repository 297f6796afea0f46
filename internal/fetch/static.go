package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stadspuls/eventpipe/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; EventPipe/1.0; +https://stadspuls.nl/bot)"

// StaticFetcher retrieves pages with a plain HTTP GET. It is the
// cheapest tier and the default for new sources.
type StaticFetcher struct {
	client    *http.Client
	userAgent string
}

// NewStaticFetcher creates a static fetcher with the given timeout.
func NewStaticFetcher(timeout time.Duration) *StaticFetcher {
	return &StaticFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: defaultUserAgent,
	}
}

// Strategy returns the fetch tier this fetcher implements.
func (f *StaticFetcher) Strategy() domain.FetchStrategy { return domain.FetchStatic }

// Fetch performs the HTTP GET. Redirects are followed; the final URL
// after redirects is recorded in the result. Per-source headers override
// the defaults.
func (f *StaticFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &BlockedFetchError{URL: url, StatusCode: resp.StatusCode}
	}
	// Other 4xx/5xx are terminal errors here rather than results; the
	// pipeline has no use for an error page's HTML.
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}

	html := string(body)
	return &Result{
		HTML:        html,
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentHash: hashContent(html),
		Duration:    time.Since(start),
		FetcherUsed: domain.FetchStatic,
	}, nil
}
