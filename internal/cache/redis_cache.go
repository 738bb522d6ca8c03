package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(messageID string) string {
	return fmt.Sprintf("bounce:%s", messageID)
}

func (c *RedisCache) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, key(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) MarkProcessed(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	return c.rdb.Set(ctx, key(messageID), time.Now().UTC().Format(time.RFC3339), c.ttl).Err()
}
