package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// jitterWindow is the random delay added around each rate-limited wait
// so sequential requests do not land on a fixed cadence.
const jitterWindow = 20 * time.Millisecond

// SourceLimiter enforces a per-source request interval with a small
// random jitter on top.
type SourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSourceLimiter creates an empty limiter registry.
func NewSourceLimiter() *SourceLimiter {
	return &SourceLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the source's next request slot, then sleeps an
// extra jitter of up to ±20ms.
func (l *SourceLimiter) Wait(ctx context.Context, sourceID string, interval time.Duration) error {
	if err := l.limiter(sourceID, interval).Wait(ctx); err != nil {
		return err
	}

	jitter := time.Duration(rand.Int63n(int64(2*jitterWindow))) - jitterWindow
	if jitter <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

func (l *SourceLimiter) limiter(sourceID string, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[sourceID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		l.limiters[sourceID] = lim
	} else if lim.Limit() != rate.Every(interval) {
		// A healed config may change the interval mid-run.
		lim.SetLimit(rate.Every(interval))
	}
	return lim
}
