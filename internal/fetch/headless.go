package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
)

// HeadlessFetcher renders pages in a headless Chromium instance. The
// browser is launched lazily on first use and shared across fetches.
type HeadlessFetcher struct {
	mu      sync.Mutex
	browser *rod.Browser
	timeout time.Duration
	logger  logger.Interface
}

// NewHeadlessFetcher creates a headless fetcher. The browser is not
// launched until the first Fetch call.
func NewHeadlessFetcher(timeout time.Duration, log logger.Interface) *HeadlessFetcher {
	return &HeadlessFetcher{
		timeout: timeout,
		logger:  log,
	}
}

// Strategy returns the fetch tier this fetcher implements.
func (f *HeadlessFetcher) Strategy() domain.FetchStrategy { return domain.FetchHeadless }

// Fetch navigates to the URL, waits for the page to load, and returns
// the rendered HTML. Per-source headers ride on every request the page
// makes.
func (f *HeadlessFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	start := time.Now()

	browser, err := f.acquire()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to open page %s: %w", url, err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(f.timeout)
	if len(headers) > 0 {
		pairs := make([]string, 0, len(headers)*2)
		for k, v := range headers {
			pairs = append(pairs, k, v)
		}
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			return nil, fmt.Errorf("failed to set headers for %s: %w", url, err)
		}
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered HTML of %s: %w", url, err)
	}
	html = domain.TruncateUTF8(html, MaxBodyBytes)

	info, err := page.Info()
	finalURL := url
	if err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &Result{
		HTML:        html,
		StatusCode:  200,
		FinalURL:    finalURL,
		ContentHash: hashContent(html),
		Duration:    time.Since(start),
		FetcherUsed: domain.FetchHeadless,
	}, nil
}

// Close shuts down the shared browser if one was launched.
func (f *HeadlessFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	browser := f.browser
	f.browser = nil
	if err := browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

func (f *HeadlessFetcher) acquire() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("window-size", "1920,1080").
		Set("lang", "nl-NL,nl")

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	f.logger.Info("headless browser launched")
	f.browser = browser
	return browser, nil
}
