// Package ratelimit provides the Redis-backed attempt counter used to throttle
// credential checks.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("rate limiter storage unavailable")

const keyPrefix = "ratelimit:"

// hitScript increments the counter and starts the window on the first hit in
// one round trip, so a crash between the two commands cannot leave a counter
// without an expiry.
var hitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// reserveScript increments only while the counter is below ARGV[2] and
// returns -1 once the budget is spent. Blocked calls leave the counter alone.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[2]) then
	return -1
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter is a fixed-window counter: the window starts at the first hit
// and every hit inside it counts against the same budget.
type RedisLimiter struct {
	redis redis.UniversalClient
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{redis: client}
}

// Hit records an attempt and returns the number of attempts in the current window.
func (l *RedisLimiter) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := hitScript.Run(ctx, l.redis, []string{keyPrefix + key}, window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Reserve takes one attempt from the budget of key. It returns false, without
// counting, when maxAttempts are already used in the current window.
func (l *RedisLimiter) Reserve(ctx context.Context, key string, maxAttempts int, window time.Duration) (int, bool, error) {
	count, err := reserveScript.Run(ctx, l.redis, []string{keyPrefix + key}, window.Milliseconds(), maxAttempts).Int()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return maxAttempts, false, nil
	}
	return count, true, nil
}

// TooManyAttempts reports whether the key has used up its budget.
func (l *RedisLimiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	value, err := l.redis.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count, err := strconv.Atoi(value)
	if err != nil {
		return false, fmt.Errorf("corrupt rate limit counter %q: %w", key, err)
	}
	return count >= maxAttempts, nil
}

// AvailableIn returns how long until the current window closes.
func (l *RedisLimiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// -2 (missing) and -1 (no expiry) both mean nothing to wait for.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Clear resets the counter.
func (l *RedisLimiter) Clear(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
