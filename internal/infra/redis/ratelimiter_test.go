package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllowRejectsAfterLimit(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_040, 0)
	limiter, err := newRedisRateLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	const limit = 3
	for i := 1; i <= limit; i++ {
		allowed, err := limiter.Allow(context.Background(), "provider:twilio:minute", limit, time.Minute)
		if err != nil {
			t.Fatalf("Allow() call %d error = %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "provider:twilio:minute", limit, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("call N+1 should be rejected within the window")
	}

	now = now.Add(time.Minute)
	allowed, err = limiter.Allow(context.Background(), "provider:twilio:minute", limit, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next window should allow calls again")
	}
}

func TestRedisRateLimiterScopesAreIndependent(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	ctx := context.Background()
	if allowed, _ := limiter.Allow(ctx, "merchant:m1:sms:hour", 1, time.Hour); !allowed {
		t.Fatal("m1 sms should be allowed on first request")
	}
	if allowed, _ := limiter.Allow(ctx, "merchant:m1:email:hour", 1, time.Hour); !allowed {
		t.Fatal("m1 email should be allowed on first request")
	}
	if allowed, _ := limiter.Allow(ctx, "merchant:m2:sms:hour", 1, time.Hour); !allowed {
		t.Fatal("m2 sms should be allowed on first request")
	}
	if allowed, _ := limiter.Allow(ctx, "merchant:m1:sms:hour", 1, time.Hour); allowed {
		t.Fatal("m1 sms second request should be rejected")
	}
}

func TestRedisRateLimiterSetsWindowTTL(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	now := time.Unix(1_700_000_040, 0)
	limiter, err := newRedisRateLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "apikey:k1:hour", 10, time.Hour); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	key := windowKey("apikey:k1:hour", now, time.Hour)
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("TTL(%s) = %v, want %v", key, ttl, time.Hour)
	}

	mr.FastForward(time.Hour)
	if mr.Exists(key) {
		t.Fatal("window key should expire after its TTL")
	}
}

func TestRedisRateLimiterBackendDown(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter, err := newRedisRateLimiter(rdb, time.Now)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	mr.Close()

	if _, err := limiter.Allow(context.Background(), "provider:x:minute", 1, time.Minute); err == nil {
		t.Fatal("Allow() error = nil, want error when redis is unavailable")
	}
}

func TestRedisRateLimiterValidatesInput(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter, _ := newRedisRateLimiter(rdb, time.Now)

	if _, err := limiter.Allow(context.Background(), " ", 1, time.Minute); err == nil {
		t.Fatal("expected error for empty scope")
	}
	if _, err := limiter.Allow(context.Background(), "s", 0, time.Minute); err == nil {
		t.Fatal("expected error for non-positive limit")
	}
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}
