// Package trigger wakes pipeline endpoints with fire-and-forget POSTs,
// used for coordinator -> worker and worker -> worker chaining.
package trigger

import (
	"context"
	"net/http"
	"time"

	"github.com/stadspuls/eventpipe/internal/logger"
)

const wakeTimeout = 10 * time.Second

// Trigger posts to a URL without waiting for the work it starts.
type Trigger struct {
	client *http.Client
	logger logger.Interface
}

// New creates a trigger.
func New(log logger.Interface) *Trigger {
	return &Trigger{
		client: &http.Client{Timeout: wakeTimeout},
		logger: log,
	}
}

// Wake POSTs to the URL in the background. Errors are logged, never
// returned; the next scheduled tick covers a lost wake-up.
func (t *Trigger) Wake(url string) {
	if url == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), wakeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			t.logger.Warn("failed to build wake request", "url", url, "error", err)
			return
		}

		resp, err := t.client.Do(req)
		if err != nil {
			t.logger.Warn("wake request failed", "url", url, "error", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			t.logger.Warn("wake request rejected", "url", url, "status", resp.StatusCode)
		}
	}()
}
