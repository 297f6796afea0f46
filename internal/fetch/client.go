package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/retry"
)

// Client selects the fetcher for a source's configured strategy and
// applies rate limiting and throttle retries around it.
type Client struct {
	static   Fetcher
	headless Fetcher
	proxy    Fetcher
	limiter  *SourceLimiter
	logger   logger.Interface
}

// NewClient wires the three fetch tiers together.
func NewClient(static, headless, proxy Fetcher, log logger.Interface) *Client {
	return &Client{
		static:   static,
		headless: headless,
		proxy:    proxy,
		limiter:  NewSourceLimiter(),
		logger:   log,
	}
}

// Fetch retrieves url for the source using its configured strategy.
// forceProxy overrides the strategy for a proxy retry pass. 429
// responses are retried with exponential backoff before giving up.
func (c *Client) Fetch(ctx context.Context, source *domain.Source, url string, forceProxy bool) (*Result, error) {
	strategy := source.FetchStrategy
	if forceProxy {
		strategy = domain.FetchProxy
	}

	fetcher, err := c.fetcherFor(strategy)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx, source.ID, source.RateLimit()); err != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	var result *Result
	cfg := retry.DefaultConfig()
	cfg.IsRetryable = throttleOnly

	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		var fetchErr error
		result, fetchErr = fetcher.Fetch(ctx, url, source.ExtractionConfig.Headers)
		return fetchErr
	})
	if err != nil {
		if errors.Is(err, retry.ErrMaxAttemptsExceeded) {
			c.logger.Warn("fetch exhausted throttle retries",
				"source_id", source.ID, "url", url, "strategy", strategy)
		}
		return nil, err
	}

	c.logger.Debug("page fetched",
		"source_id", source.ID,
		"url", url,
		"strategy", result.FetcherUsed,
		"status", result.StatusCode,
		"duration_ms", result.Duration.Milliseconds(),
		"bytes", len(result.HTML))

	return result, nil
}

func (c *Client) fetcherFor(strategy domain.FetchStrategy) (Fetcher, error) {
	switch strategy {
	case domain.FetchStatic:
		return c.static, nil
	case domain.FetchHeadless:
		return c.headless, nil
	case domain.FetchProxy:
		return c.proxy, nil
	default:
		return nil, fmt.Errorf("unknown fetch strategy %q", strategy)
	}
}

// throttleOnly retries only on 429s. Blocked fetches (403) and hard
// errors go straight back to the caller for tier escalation.
func throttleOnly(err error) bool {
	var blocked *BlockedFetchError
	if errors.As(err, &blocked) {
		return blocked.StatusCode == 429
	}
	return false
}

// FetchTimeout is the default per-page fetch deadline.
const FetchTimeout = 15 * time.Second
