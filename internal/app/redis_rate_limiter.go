package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// submissionWindowScript bumps the fixed-window counter for one purchaser
// and reports its remaining lifetime. INCR and PEXPIRE stay atomic so a
// crashed client can never leave a counter without an expiry.
var submissionWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter bounds repeated proof submissions per purchaser. A nil limiter
// or a non-positive limit disables the check, which keeps the lifecycle
// usable without Redis.
type RateLimiter interface {
	Allow(ctx context.Context, userID string, limit int, window time.Duration) (allowed bool, retryAfterSeconds int, err error)
}

// RateLimitedError is returned when a purchaser exhausted their submission
// window.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// RedisRateLimiter is the distributed fixed-window implementation: one
// counter per purchaser under the configured prefix.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "vpnmarket:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: p}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, userID string, limit int, window time.Duration) (bool, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 || strings.TrimSpace(userID) == "" {
		return true, 0, nil
	}

	// Sub-second windows round up so PEXPIRE never gets a zero.
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.prefix + ":order_submit:" + userID
	raw, err := submissionWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected limiter reply shape: %T", raw)
	}
	count, countOK := values[0].(int64)
	ttlMs, ttlOK := values[1].(int64)
	if !countOK || !ttlOK {
		return false, 0, fmt.Errorf("unexpected limiter reply types: %T, %T", values[0], values[1])
	}

	if count <= int64(limit) {
		return true, 0, nil
	}

	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int((ttlMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}
