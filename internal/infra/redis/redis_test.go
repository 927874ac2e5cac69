package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("NewRedis() error = nil, want parse error")
	}
}

func TestNewRedisFailsWhenUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedis(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("NewRedis() error = nil, want ping error")
	}
}
