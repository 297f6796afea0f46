package coordination_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/coordination"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTickMutexExcludesSecondHolder(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := coordination.NewTickMutex(client, "coordinator", time.Minute)
	second := coordination.NewTickMutex(client, "coordinator", time.Minute)

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx))

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTickMutexReleaseByNonHolder(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := coordination.NewTickMutex(client, "healer", time.Minute)
	intruder := coordination.NewTickMutex(client, "healer", time.Minute)

	ok, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, intruder.Release(ctx), coordination.ErrNotHeld)

	held, err := holder.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestAlertLatchFiresOncePerRaisedPeriod(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	latch := coordination.NewAlertLatch(client, "dlq-depth")

	fire, err := latch.ShouldFire(ctx)
	require.NoError(t, err)
	assert.True(t, fire)

	fire, err = latch.ShouldFire(ctx)
	require.NoError(t, err)
	assert.False(t, fire)

	require.NoError(t, latch.Clear(ctx))

	fire, err = latch.ShouldFire(ctx)
	require.NoError(t, err)
	assert.True(t, fire)
}
