package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartpulse/cartpulse/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// versionTTL outlives any page TTL so a version never resets under a live page.
const versionTTL = 24 * time.Hour

type RedisMessageCache struct {
	client *redis.Client
	prefix string
}

// NewRedisMessageCache wraps a shared client. Closing the cache does not
// close the client.
func NewRedisMessageCache(client *redis.Client, prefix string) *RedisMessageCache {
	return &RedisMessageCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisMessageCache) BuildKey(cartID string, version int64, before time.Time, limit int) string {
	return fmt.Sprintf("%s:%s:v%d:%d:%d", c.prefix, cartID, version, before.UTC().UnixMilli(), limit)
}

func (c *RedisMessageCache) versionKey(cartID string) string {
	return fmt.Sprintf("%s:%s:version", c.prefix, cartID)
}

func (c *RedisMessageCache) Version(ctx context.Context, cartID string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(cartID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get cache version: %w", err)
	}
	return v, nil
}

func (c *RedisMessageCache) BumpVersion(ctx context.Context, cartID string) error {
	key := c.versionKey(cartID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, versionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump cache version: %w", err)
	}
	return nil
}

func (c *RedisMessageCache) Get(ctx context.Context, key string) ([]domain.ChatMessage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var messages []domain.ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return messages, nil
}

func (c *RedisMessageCache) Set(ctx context.Context, key string, messages []domain.ChatMessage, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisMessageCache) Close() error {
	return nil
}
