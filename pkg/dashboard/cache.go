package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "storefront:dashboard:"

// Cache stores rendered summaries per owner.
type Cache interface {
	Get(ctx context.Context, owner int64) (Summary, bool, error)
	Set(ctx context.Context, owner int64, s Summary) error
	Delete(ctx context.Context, owner int64) error
}

// RedisCache keeps summaries in Redis with a TTL so stale entries age out even
// if an invalidation is lost.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func cacheKey(owner int64) string {
	return keyPrefix + strconv.FormatInt(owner, 10)
}

func (c *RedisCache) Get(ctx context.Context, owner int64) (Summary, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, fmt.Errorf("failed to read dashboard cache: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, false, fmt.Errorf("failed to decode dashboard cache: %w", err)
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, owner int64, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode dashboard summary: %w", err)
	}
	return c.client.Set(ctx, cacheKey(owner), data, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, owner int64) error {
	return c.client.Del(ctx, cacheKey(owner)).Err()
}
