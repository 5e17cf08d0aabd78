package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client), mr
}

func TestRedisLimiter_BlocksAfterMaxAttempts(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	key := "user@example.com|203.0.113.7"

	for i := 1; i <= 5; i++ {
		blocked, err := limiter.TooManyAttempts(ctx, key, 5)
		require.NoError(t, err)
		assert.False(t, blocked, "attempt %d should be allowed", i)

		count, err := limiter.Hit(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	blocked, err := limiter.TooManyAttempts(ctx, key, 5)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestRedisLimiter_WindowStartsOnFirstHit(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)
	_, err = limiter.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)

	wait, err := limiter.AvailableIn(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, (20 * time.Second).Seconds(), wait.Seconds(), 1)

	mr.FastForward(21 * time.Second)
	blocked, err := limiter.TooManyAttempts(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRedisLimiter_Clear(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Hit(ctx, "k", time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, limiter.Clear(ctx, "k"))

	blocked, err := limiter.TooManyAttempts(ctx, "k", 5)
	require.NoError(t, err)
	assert.False(t, blocked)

	wait, err := limiter.AvailableIn(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestRedisLimiter_ConcurrentHitsAreCounted(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = limiter.Hit(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	count, err := limiter.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 21, count)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	_, err := limiter.Hit(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	_, err = limiter.TooManyAttempts(context.Background(), "k", 5)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestRedisLimiter_ReserveStopsAtBudget(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, ok, err := limiter.Reserve(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, count)
	}

	count, ok, err := limiter.Reserve(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, count)

	value, err := mr.Get(keyPrefix + "k")
	require.NoError(t, err)
	assert.Equal(t, "3", value, "a refused reservation is not counted")
	assert.Greater(t, mr.TTL(keyPrefix+"k"), time.Duration(0))
}

func TestRedisLimiter_ReserveConcurrent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	var mu sync.Mutex
	granted := 0
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := limiter.Reserve(ctx, "k", 5, time.Minute)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
}

func TestRedisLimiter_ReserveRestartsAfterWindow(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	_, ok, err := limiter.Reserve(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = limiter.Reserve(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	count, ok, err := limiter.Reserve(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, count)
}
