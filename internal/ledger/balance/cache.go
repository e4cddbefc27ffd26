package balance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "hearth:balance"

// Cache stores breakdowns in Redis under a per-household version; bumping the version
// orphans every cached breakdown of that household.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func versionKey(householdID uuid.UUID) string {
	return keyPrefix + ":version:" + householdID.String()
}

// Version returns the household's cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, householdID uuid.UUID) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(householdID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the household's current version.
func (c *Cache) BuildKey(ctx context.Context, householdID uuid.UUID, parts ...string) (string, error) {
	base := strings.Join(append([]string{keyPrefix, householdID.String()}, parts...), ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx, householdID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", base, ver), nil
}

// Fetch loads a cached breakdown or computes and stores it. Concurrent misses for the same key
// share one computation. Redis failures fall back to the loader.
func (c *Cache) Fetch(ctx context.Context, key string, loader func(context.Context) (Breakdown, error)) (Breakdown, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var out Breakdown
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return Breakdown{}, err
		}
		if raw, err := json.Marshal(value); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return value, nil
	})
	if err != nil {
		return Breakdown{}, err
	}
	return v.(Breakdown), nil
}

// Invalidate bumps the household version.
func (c *Cache) Invalidate(ctx context.Context, householdID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(householdID)).Err()
}
