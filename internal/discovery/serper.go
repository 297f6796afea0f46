package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/retry"
)

const serperEndpoint = "https://google.serper.dev/search"

// Hit is one organic search result.
type Hit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SerperClient queries the Serper search API.
type SerperClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   logger.Interface
}

// NewSerperClient creates a search client.
func NewSerperClient(apiKey string, timeout time.Duration, log logger.Interface) *SerperClient {
	return &SerperClient{
		apiKey:   apiKey,
		endpoint: serperEndpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   log,
	}
}

// SetEndpoint overrides the API endpoint, for tests.
func (c *SerperClient) SetEndpoint(endpoint string) { c.endpoint = endpoint }

// Search runs one query, retrying throttles and transient failures with
// backoff.
func (c *SerperClient) Search(ctx context.Context, query string) ([]Hit, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("serper API key is not configured")
	}

	var hits []Hit
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		var searchErr error
		hits, searchErr = c.search(ctx, query)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("search %q failed: %w", query, err)
	}

	c.logger.Debug("search completed", "query", query, "hits", len(hits))
	return hits, nil
}

func (c *SerperClient) search(ctx context.Context, query string) ([]Hit, error) {
	body, err := json.Marshal(map[string]any{
		"q":   query,
		"gl":  "nl",
		"hl":  "nl",
		"num": 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var payload struct {
		Organic []Hit `json:"organic"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return payload.Organic, nil
}
