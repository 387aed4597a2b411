package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	alarms "alarm-engine/internal/alarms/domain"
)

const redisKeyPrefix = "alarm-engine:"

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient constructs a client from config.
func NewRedisClient(c RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// RedisCache shares cached attribute entries between engine instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a Redis-backed cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("cache: nil redis client")
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns a cached entry.
func (c *RedisCache) Get(ctx context.Context, key string) (alarms.Entry, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return alarms.Entry{}, false, nil
		}
		return alarms.Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var entry alarms.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return alarms.Entry{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return entry, true, nil
}

// Set stores an entry.
func (c *RedisCache) Set(ctx context.Context, key string, entry alarms.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete removes an entry.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}
