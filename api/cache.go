package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"trip-pipeline/utils"
)

// ResponseCache stores rendered JSON responses. Keys embed the dataset
// version, so entries never outlive the snapshot they were computed from.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
}

// NoCache is used when no Redis address is configured.
type NoCache struct{}

func (NoCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NoCache) Set(context.Context, string, []byte)        {}

// RedisCache is a ResponseCache backed by Redis. Cache failures are logged
// and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *utils.Logger
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *utils.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect to %s: %w", addr, err)
	}
	logger.Info("[api] Connected to Redis at %s", addr)
	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	body, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("[api] Redis get %s: %v", key, err)
		}
		return nil, false
	}
	return body, true
}

func (c *RedisCache) Set(ctx context.Context, key string, body []byte) {
	if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
		c.logger.Warn("[api] Redis set %s: %v", key, err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
