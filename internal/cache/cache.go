// Package cache provides a Redis-backed cache with an in-memory fallback
// so a missing Redis never takes the service down.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fragmentforge/internal/logging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient is the subset of go-redis this package needs; tests swap in
// a fake.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrCacheMiss is returned when a key is absent from every tier.
var ErrCacheMiss = fmt.Errorf("cache miss")

type goRedisAdapter struct {
	client *redis.Client
}

// NewRedisClient connects to Redis by URL (redis:// or rediss://) and
// verifies the connection.
func NewRedisClient(redisURL string) (RedisClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &goRedisAdapter{client: client}, nil
}

func (a *goRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := a.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	return val, err
}

func (a *goRedisAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.client.Set(ctx, key, value, ttl).Err()
}

func (a *goRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.client.Del(ctx, keys...).Err()
}

func (a *goRedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *goRedisAdapter) Close() error {
	return a.client.Close()
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// Cache reads and writes through Redis when available and keeps an
// in-memory tier for when it is not.
type Cache struct {
	redis RedisClient // nil when unavailable

	mem   map[string]memEntry
	memMu sync.RWMutex
}

// New creates a cache. A nil client yields a memory-only cache; callers
// pick that when REDIS_URL is unset or the connection failed.
func New(client RedisClient) *Cache {
	c := &Cache{
		redis: client,
		mem:   make(map[string]memEntry),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the raw value for key, ErrCacheMiss when absent or expired.
// A Redis miss still falls through to the memory tier: a value whose Redis
// write failed lives only there.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if err != ErrCacheMiss {
			logging.L().Warn("redis get failed, using memory tier",
				zap.String("key", key), zap.Error(err))
		}
	}

	c.memMu.RLock()
	entry, ok := c.mem[key]
	c.memMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", ErrCacheMiss
	}
	return entry.value, nil
}

// Set writes to Redis when available and always to the memory tier.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, value, ttl); err != nil {
			logging.L().Warn("redis set failed, memory tier only",
				zap.String("key", key), zap.Error(err))
		}
	}

	c.memMu.Lock()
	c.mem[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.memMu.Unlock()
	return nil
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.redis != nil {
		if err := c.redis.Del(ctx, key); err != nil {
			logging.L().Warn("redis del failed", zap.String("key", key), zap.Error(err))
		}
	}
	c.memMu.Lock()
	delete(c.mem, key)
	c.memMu.Unlock()
	return nil
}

// GetJSON unmarshals the cached value into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// SetJSON marshals value and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Close releases the Redis connection if one exists.
func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		c.memMu.Lock()
		for key, entry := range c.mem {
			if now.After(entry.expiresAt) {
				delete(c.mem, key)
			}
		}
		c.memMu.Unlock()
	}
}
