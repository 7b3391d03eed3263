package repository

import (
	"context"
	"fmt"
	"time"

	"crewlink/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceCache mirrors online state into redis with a TTL and counts
// inbound messages for rate limiting. Keys expire on their own, so a crashed
// instance cannot leave users online forever.
type RedisPresenceCache struct {
	client *redis.Client
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisPresenceCache(client *redis.Client) *RedisPresenceCache {
	return &RedisPresenceCache{client: client}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

func (r *RedisPresenceCache) SetOnline(ctx context.Context, userID, role string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, presenceKey(userID), role, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence in redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceCache) SetOffline(ctx context.Context, userID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence from redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence in redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisPresenceCache) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("rate_limit:%s", userID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
