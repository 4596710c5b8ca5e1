package embeddings

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisCachePrefix = "contex:embedding:"

// RedisCache is an embedding cache backed by Redis, shared across
// processes. Values are little-endian float32 bytes with a TTL; Redis
// errors are logged and treated as misses so the cache can never fail
// an encode.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache. A zero ttl means entries
// never expire.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached vector for text, or false on miss or error.
func (c *RedisCache) Get(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.client.Get(ctx, redisCachePrefix+cacheKey(text)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Msg("Embedding cache read failed, treating as miss")
		return nil, false
	}
	vec := decodeVector(data)
	if vec == nil {
		return nil, false
	}
	return vec, true
}

// Set stores the vector for text. Errors are logged, not returned.
func (c *RedisCache) Set(ctx context.Context, text string, vector []float32) {
	if err := c.client.Set(ctx, redisCachePrefix+cacheKey(text), encodeVector(vector), c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("Embedding cache write failed")
	}
}

// Delete removes the entry for text.
func (c *RedisCache) Delete(ctx context.Context, text string) {
	if err := c.client.Del(ctx, redisCachePrefix+cacheKey(text)).Err(); err != nil {
		log.Warn().Err(err).Msg("Embedding cache delete failed")
	}
}

// Clear drops every cache entry under the cache prefix, scanning in
// batches to avoid blocking Redis.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisCachePrefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}
