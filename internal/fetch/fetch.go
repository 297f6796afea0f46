// Package fetch retrieves source pages using a tiered strategy: plain
// HTTP, a headless browser, or a rendering proxy. Each fetch is rate
// limited per source and retried on throttling responses.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 10 << 20

// Result is the outcome of a successful page fetch.
type Result struct {
	HTML        string               `json:"html"`
	StatusCode  int                  `json:"statusCode"`
	FinalURL    string               `json:"finalUrl"`
	ContentHash string               `json:"contentHash"`
	Duration    time.Duration        `json:"durationMs"`
	FetcherUsed domain.FetchStrategy `json:"fetcherUsed"`
}

// BlockedFetchError signals that a source actively refused the request
// (403 or persistent 429). Callers use it to decide on a proxy retry.
type BlockedFetchError struct {
	URL        string
	StatusCode int
}

func (e *BlockedFetchError) Error() string {
	return fmt.Sprintf("fetch blocked with status %d: %s", e.StatusCode, e.URL)
}

// Fetcher retrieves a single page. headers are the source's configured
// extra request headers; nil is fine.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (*Result, error)
	Strategy() domain.FetchStrategy
}

func hashContent(html string) string {
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:])
}
