package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

// allowScript increments the window counter, sets its TTL on the first hit
// and rejects once the counter passes the limit.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.Limiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a distributed fixed-window limiter backed by Redis.
type RedisRateLimiter struct {
	client goredis.Scripter
	now    func() time.Time
	script *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return newRedisRateLimiter(client, time.Now)
}

func newRedisRateLimiter(client goredis.Scripter, nowFn func() time.Time) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &RedisRateLimiter{
		client: client,
		now:    nowFn,
		script: allowScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedScope := strings.TrimSpace(scope)
	if normalizedScope == "" {
		return false, fmt.Errorf("scope is required")
	}
	if limit <= 0 {
		return false, fmt.Errorf("limit must be positive")
	}
	if window < time.Second {
		window = time.Second
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := windowKey(normalizedScope, r.now(), window)
	ttlSeconds := int64(window / time.Second)

	result, err := r.script.Run(ctx, r.client, []string{key}, limit, ttlSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// windowKey names the counter for the window containing now, e.g.
// ratelimit:provider:twilio:minute:1700000040.
func windowKey(scope string, now time.Time, window time.Duration) string {
	start := now.UTC().Truncate(window).Unix()
	return fmt.Sprintf("ratelimit:%s:%d", scope, start)
}
