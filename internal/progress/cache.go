package progress

import (
	"context"
	"fmt"
	"sync"
)

// Cache stores computed course percentages. It is advisory: a miss or an
// error only means the percentage is computed from the records again.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, pct float64) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Key names a learner's cached course percentage. The course revision and the
// learner's enrollment version are part of the key, so an authoring change or
// a progress refresh leaves old entries unread. A value computed from older
// records can only ever land under an older key.
func Key(courseID string, revision, version int64, userID string) string {
	return fmt.Sprintf("progress:%s:%d:%d:%s", courseID, revision, version, userID)
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (float64, bool, error) { return 0, false, nil }

func (NopCache) Set(context.Context, string, float64) error { return nil }

func (NopCache) Invalidate(context.Context, ...string) error { return nil }

// MemoryCache is an in-process Cache for tests and single-node setups.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]float64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]float64{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, pct float64) error {
	c.mu.Lock()
	c.items[key] = pct
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
