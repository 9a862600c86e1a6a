package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/homesheet/internal/listing"
)

// Cache stores finalized search results by criteria key.
type Cache interface {
	// Get returns the cached listings and whether the key was present.
	Get(ctx context.Context, key string) ([]listing.Listing, bool, error)
	Set(ctx context.Context, key string, listings []listing.Listing) error
}

// NopCache never stores anything.
type NopCache struct{}

// Get implements Cache.
func (NopCache) Get(context.Context, string) ([]listing.Listing, bool, error) {
	return nil, false, nil
}

// Set implements Cache.
func (NopCache) Set(context.Context, string, []listing.Listing) error { return nil }

const cacheKeyPrefix = "homesheet:search:"

// DefaultCacheTTL bounds how stale a cached result may be.
const DefaultCacheTTL = 10 * time.Minute

// RedisCache keeps results in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache on client. ttl <= 0 uses DefaultCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]listing.Listing, bool, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get search result: %w", err)
	}

	var listings []listing.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, false, fmt.Errorf("unmarshal search result: %w", err)
	}
	return listings, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, listings []listing.Listing) error {
	if listings == nil {
		listings = []listing.Listing{}
	}
	data, err := json.Marshal(listings)
	if err != nil {
		return fmt.Errorf("marshal search result: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set search result: %w", err)
	}
	return nil
}
