package dedupe

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"argus_relay/platform/config"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestMarkAndLookup(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if _, ok := cache.Forwarded(ctx, "evt1"); ok {
		t.Fatal("unexpected hit before mark")
	}

	if err := cache.MarkForwarded(ctx, "evt1", "call_42"); err != nil {
		t.Fatalf("MarkForwarded: %v", err)
	}

	ref, ok := cache.Forwarded(ctx, "evt1")
	if !ok || ref != "call_42" {
		t.Fatalf("Forwarded = %q, %v", ref, ok)
	}

	if _, ok := cache.Forwarded(ctx, "evt2"); ok {
		t.Error("unrelated key must miss")
	}
}

func TestNilCacheIsDisabled(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	if err := cache.MarkForwarded(ctx, "evt1", "call_42"); err != nil {
		t.Fatalf("nil cache MarkForwarded: %v", err)
	}
	if _, ok := cache.Forwarded(ctx, "evt1"); ok {
		t.Error("nil cache must always miss")
	}
}

func TestNewWithoutRedisURL(t *testing.T) {
	cache, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cache != nil {
		t.Error("cache should be disabled without REDIS_URL")
	}
}
