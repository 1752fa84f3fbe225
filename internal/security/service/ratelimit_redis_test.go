package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisCounter(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCounterStore(client, discardLogger()), mr
}

func TestRedisCounterStoreHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("counts hits within the window", func(t *testing.T) {
		store, _ := newTestRedisCounter(t)
		now := time.Now()

		for i := range 3 {
			count, _, err := store.Hit(ctx, "login:ip:10.0.0.1", time.Minute, now.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
			require.Equal(t, i+1, count)
		}
	})

	t.Run("prunes hits outside the window", func(t *testing.T) {
		store, _ := newTestRedisCounter(t)
		now := time.Now()

		count, _, err := store.Hit(ctx, "login:ip:10.0.0.2", time.Minute, now)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		// Two minutes later the first hit is out of the window.
		count, oldest, err := store.Hit(ctx, "login:ip:10.0.0.2", time.Minute, now.Add(2*time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.WithinDuration(t, now.Add(2*time.Minute), oldest, time.Second)
	})

	t.Run("reports the oldest surviving hit", func(t *testing.T) {
		store, _ := newTestRedisCounter(t)
		now := time.Now()

		_, oldest, err := store.Hit(ctx, "login:ip:10.0.0.3", time.Minute, now)
		require.NoError(t, err)
		require.WithinDuration(t, now, oldest, time.Millisecond)

		_, oldest, err = store.Hit(ctx, "login:ip:10.0.0.3", time.Minute, now.Add(10*time.Second))
		require.NoError(t, err)
		require.WithinDuration(t, now, oldest, time.Millisecond)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		store, _ := newTestRedisCounter(t)
		now := time.Now()

		_, _, err := store.Hit(ctx, "login:ip:10.0.0.4", time.Minute, now)
		require.NoError(t, err)

		count, _, err := store.Hit(ctx, "login:ip:10.0.0.5", time.Minute, now)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})
}

func TestRedisCounterStoreReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, _ := newTestRedisCounter(t)
	now := time.Now()

	for range 3 {
		_, _, err := store.Hit(ctx, "login:ip:10.0.1.1", time.Minute, now)
		require.NoError(t, err)
	}

	require.NoError(t, store.Reset(ctx, "login:ip:10.0.1.1"))

	count, _, err := store.Hit(ctx, "login:ip:10.0.1.1", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRedisCounterStoreFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, mr := newTestRedisCounter(t)
	now := time.Now()

	// Healthy path first.
	count, _, err := store.Hit(ctx, "login:ip:10.0.2.1", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Kill Redis: counting degrades to the in-memory fallback instead of
	// failing open.
	mr.Close()

	count, _, err = store.Hit(ctx, "login:ip:10.0.2.1", time.Minute, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, _, err = store.Hit(ctx, "login:ip:10.0.2.1", time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestRateLimiterWithRedisCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, _ := newTestRedisCounter(t)
	clock := newTestClock()
	rl := NewRateLimiter(store)
	rl.Now = clock.Now

	for i := range 5 {
		d := rl.Allow(ctx, "ip:10.0.3.1", LimitLogin)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
	}
	require.False(t, rl.Allow(ctx, "ip:10.0.3.1", LimitLogin).Allowed)

	clock.Advance(5*time.Minute + time.Second)
	require.True(t, rl.Allow(ctx, "ip:10.0.3.1", LimitLogin).Allowed)
}
