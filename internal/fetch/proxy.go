package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stadspuls/eventpipe/internal/domain"
)

const defaultProxyEndpoint = "https://app.scrapingbee.com/api/v1/"

// ProxyFetcher routes the request through a rendering proxy provider.
// It is the most expensive tier and used only when a source blocks
// direct access.
type ProxyFetcher struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewProxyFetcher creates a proxy fetcher. An empty endpoint selects
// the default provider.
func NewProxyFetcher(apiKey, endpoint string, timeout time.Duration) *ProxyFetcher {
	if endpoint == "" {
		endpoint = defaultProxyEndpoint
	}
	return &ProxyFetcher{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

// Strategy returns the fetch tier this fetcher implements.
func (f *ProxyFetcher) Strategy() domain.FetchStrategy { return domain.FetchProxy }

// Fetch requests the target URL through the proxy with JS rendering and
// residential exit enabled. Per-source headers are forwarded to the
// target via the provider's Spb- prefix convention.
func (f *ProxyFetcher) Fetch(ctx context.Context, target string, headers map[string]string) (*Result, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("proxy fetch of %s requested but no proxy API key configured", target)
	}

	start := time.Now()

	params := url.Values{}
	params.Set("api_key", f.apiKey)
	params.Set("url", target)
	params.Set("render_js", "true")
	params.Set("premium_proxy", "true")
	if len(headers) > 0 {
		params.Set("forward_headers", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy request for %s: %w", target, err)
	}
	for k, v := range headers {
		req.Header.Set("Spb-"+k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s via proxy: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &BlockedFetchError{URL: target, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("proxy fetch of %s returned status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy body of %s: %w", target, err)
	}

	html := string(body)
	return &Result{
		HTML:        html,
		StatusCode:  resp.StatusCode,
		FinalURL:    target,
		ContentHash: hashContent(html),
		Duration:    time.Since(start),
		FetcherUsed: domain.FetchProxy,
	}, nil
}
