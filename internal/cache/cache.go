// Package cache keeps the expensive read-side artifacts of a scheduled
// project — the execution report text and the serialized dependency-graph
// view — in Redis, invalidated whenever the project is rescheduled or
// receives a progress update. A circuit breaker wraps every Redis call so
// an unavailable cache degrades to recomputation, never to request
// failures.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowchain/ccpm/internal/circuitbreaker"
)

// ErrMiss is returned by Store.Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Store is the narrow slice of Redis the cache uses, separated out so tests
// can run against an in-memory fake.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store, mapping redis.Nil to ErrMiss.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Del implements Store.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Cache is the project read-side cache.
type Cache struct {
	store   Store
	breaker *circuitbreaker.Breaker
	ttl     time.Duration
}

// Config holds cache tunables.
type Config struct {
	TTL             time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// DefaultConfig returns the cache defaults: 10 minute TTL, breaker tripping
// after 5 failures with a 30s cooldown.
func DefaultConfig() Config {
	return Config{
		TTL:             10 * time.Minute,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// New creates a Cache over a Store.
func New(store Store, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		store:   store,
		breaker: circuitbreaker.New(cfg.BreakerFailures, cfg.BreakerCooldown),
		ttl:     ttl,
	}
}

func reportKey(projectID string) string {
	return fmt.Sprintf("ccpm:report:%s", projectID)
}

func graphKey(projectID string) string {
	return fmt.Sprintf("ccpm:graph:%s", projectID)
}

// Report returns the cached execution report for a project. The second
// return is false on a miss or when the cache is unavailable.
func (c *Cache) Report(ctx context.Context, projectID string) (string, bool) {
	return c.get(ctx, reportKey(projectID))
}

// SetReport caches a project's execution report.
func (c *Cache) SetReport(ctx context.Context, projectID, report string) {
	c.set(ctx, reportKey(projectID), report)
}

// GraphView returns the cached serialized dependency-graph view.
func (c *Cache) GraphView(ctx context.Context, projectID string) (string, bool) {
	return c.get(ctx, graphKey(projectID))
}

// SetGraphView caches a project's serialized dependency-graph view.
func (c *Cache) SetGraphView(ctx context.Context, projectID, view string) {
	c.set(ctx, graphKey(projectID), view)
}

// Invalidate drops every cached artifact for a project. Called after
// schedule() and after each progress update.
func (c *Cache) Invalidate(ctx context.Context, projectID string) {
	_ = c.breaker.Do(func() error {
		return c.store.Del(ctx, reportKey(projectID), graphKey(projectID))
	})
}

// BreakerState exposes the breaker for health reporting.
func (c *Cache) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func (c *Cache) get(ctx context.Context, key string) (string, bool) {
	var val string
	hit := false
	err := c.breaker.Do(func() error {
		v, err := c.store.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			return nil // a miss is a healthy cache answering "no"
		}
		if err != nil {
			return err
		}
		val = v
		hit = true
		return nil
	})
	if err != nil {
		return "", false
	}
	return val, hit
}

func (c *Cache) set(ctx context.Context, key, value string) {
	_ = c.breaker.Do(func() error {
		return c.store.Set(ctx, key, value, c.ttl)
	})
}
