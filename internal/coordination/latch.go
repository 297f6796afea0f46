package coordination

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// AlertLatch fires an alert once while a condition holds and rearms
// when it clears, so a DLQ sitting above its threshold does not page on
// every sweep.
type AlertLatch struct {
	client *redis.Client
	key    string
}

// NewAlertLatch creates a latch for the named alert.
func NewAlertLatch(client *redis.Client, name string) *AlertLatch {
	return &AlertLatch{
		client: client,
		key:    "eventpipe:alert:" + name,
	}
}

// ShouldFire reports whether the alert should fire now: true exactly
// once per raised period.
func (l *AlertLatch) ShouldFire(ctx context.Context) (bool, error) {
	set, err := l.client.SetNX(ctx, l.key, "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set alert latch %s: %w", l.key, err)
	}
	return set, nil
}

// Clear rearms the latch when the condition no longer holds.
func (l *AlertLatch) Clear(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to clear alert latch %s: %w", l.key, err)
	}
	return nil
}
