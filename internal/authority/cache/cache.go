// Package cache keeps recent authority consultation results in Redis so the
// poller and explicit queries do not hammer the authority for keys whose
// situation was just resolved. Only terminal outcomes are cached; an
// indeterminate result is worthless a second time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/pkg/platform/sentinel"
)

// DefaultTTL bounds how long a cached consultation is trusted.
const DefaultTTL = 5 * time.Minute

// Cache is a read-through cache over authority query results.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a cache. A zero ttl falls back to DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(key accesskey.Key) string {
	return fmt.Sprintf("authority:consultation:%s", key)
}

// Get returns the cached consultation for a key, or sentinel.ErrNotFound.
func (c *Cache) Get(ctx context.Context, key accesskey.Key) (manifest.TransmissionAttempt, error) {
	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return manifest.TransmissionAttempt{}, sentinel.ErrNotFound
	}
	if err != nil {
		return manifest.TransmissionAttempt{}, fmt.Errorf("consultation cache get: %w", err)
	}
	var attempt manifest.TransmissionAttempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return manifest.TransmissionAttempt{}, fmt.Errorf("consultation cache decode: %w", err)
	}
	return attempt, nil
}

// Save stores a consultation result when it is terminal; indeterminate
// outcomes are dropped without error.
func (c *Cache) Save(ctx context.Context, key accesskey.Key, attempt manifest.TransmissionAttempt) error {
	if attempt.Outcome == manifest.OutcomeIndeterminate {
		return nil
	}
	raw, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("consultation cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("consultation cache set: %w", err)
	}
	return nil
}
