// Package coordination provides the Redis primitives that keep
// concurrent pipeline ticks from stepping on each other: a mutex per
// tick kind and a latch for one-shot alerts.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTickTTL bounds how long a coordinator or healer tick may hold
// its mutex before it is presumed dead.
const DefaultTickTTL = 5 * time.Minute

// ErrNotHeld is returned when releasing or extending a mutex this
// instance does not hold.
var ErrNotHeld = errors.New("mutex not held")

// TickMutex is a Redis SetNX mutex keyed per tick kind (coordinator,
// healer, dlq-sweep). Non-blocking: a tick that loses the race simply
// skips its turn.
type TickMutex struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewTickMutex creates a mutex for the named tick.
func NewTickMutex(client *redis.Client, name string, ttl time.Duration) *TickMutex {
	if ttl <= 0 {
		ttl = DefaultTickTTL
	}
	return &TickMutex{
		client: client,
		key:    "eventpipe:tick:" + name,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the mutex without blocking.
func (m *TickMutex) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire tick mutex %s: %w", m.key, err)
	}
	return ok, nil
}

// release via Lua so only the holder can delete the key.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release frees the mutex if this instance still holds it.
func (m *TickMutex) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, m.client, []string{m.key}, m.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release tick mutex %s: %w", m.key, err)
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}

// Held reports whether this instance holds the mutex.
func (m *TickMutex) Held(ctx context.Context) (bool, error) {
	val, err := m.client.Get(ctx, m.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tick mutex %s: %w", m.key, err)
	}
	return val == m.token, nil
}
