// Package cache wraps the Redis/Dragonfly client and provides the shared
// backend for cached progress percentages.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached percentage outlives the course
// revision it was computed for.
const DefaultTTL = 10 * time.Minute

// Cache wraps a Redis/Dragonfly client.
type Cache struct {
	Client *redis.Client
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to the cache and pings it.
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{Client: client}, nil
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Percentages stores float percentages under string keys with a TTL.
type Percentages struct {
	client redis.Cmdable
	ttl    time.Duration
}

// Percentages returns a percentage store on this client. A non-positive ttl
// uses DefaultTTL.
func (c *Cache) Percentages(ttl time.Duration) *Percentages {
	return NewPercentages(c.Client, ttl)
}

// NewPercentages creates a percentage store on any Redis command client.
func NewPercentages(client redis.Cmdable, ttl time.Duration) *Percentages {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Percentages{client: client, ttl: ttl}
}

func (p *Percentages) Get(ctx context.Context, key string) (float64, bool, error) {
	v, err := p.client.Get(ctx, key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (p *Percentages) Set(ctx context.Context, key string, pct float64) error {
	if err := p.client.Set(ctx, key, pct, p.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (p *Percentages) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %d keys: %w", len(keys), err)
	}
	return nil
}
