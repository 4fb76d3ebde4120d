// Package dedupe provides a Redis-backed cache of already-forwarded events.
// It is a fast path in front of the event store: webhook senders redeliver
// aggressively, and this avoids a store round trip for events whose call
// was already placed. Correctness never depends on it; the store's per-key
// merge semantics do.
package dedupe

import (
	"context"
	"time"

	"argus_relay/platform/config"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "argus:forwarded:"
	defaultTTL = 24 * time.Hour
)

// Cache maps an event's external ID to its call reference once the call has
// been dispatched. A nil *Cache is valid and disables every operation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates the cache from the configured Redis URL. Returns nil (cache
// disabled) when Redis is not configured.
func New(cfg config.RedisConfig) (*Cache, error) {
	if !cfg.IsRedisEnabled() {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	return &Cache{
		client: redis.NewClient(opt),
		ttl:    defaultTTL,
	}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, ttl: defaultTTL}
}

// MarkForwarded records the call reference for an event.
func (c *Cache) MarkForwarded(ctx context.Context, externalID, callRef string) error {
	if c == nil {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+externalID, callRef, c.ttl).Err()
}

// Forwarded returns the stored call reference for an event, or "" when the
// event has not been forwarded (or the cache is disabled/unavailable).
func (c *Cache) Forwarded(ctx context.Context, externalID string) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, keyPrefix+externalID).Result()
	if err != nil {
		// Cache misses and transient Redis errors both fall through to the
		// store; a degraded cache must not fail the request.
		return "", false
	}
	return val, val != ""
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
