package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Yiling-J/theine-go"
)

// Cached fronts a Registry with a short-lived Get cache. Workers read the
// job record once per message; the TTL bounds how late they observe a
// cancellation.
type Cached struct {
	Registry
	ttl   time.Duration
	cache *theine.Cache[string, Job]
}

func NewCached(next Registry, ttl time.Duration) (*Cached, error) {
	cache, err := theine.NewBuilder[string, Job](1024).Build()
	if err != nil {
		return nil, fmt.Errorf("build job cache: %w", err)
	}
	return &Cached{Registry: next, ttl: ttl, cache: cache}, nil
}

func (c *Cached) Get(ctx context.Context, id string) (Job, error) {
	if j, ok := c.cache.Get(id); ok {
		return j, nil
	}
	j, err := c.Registry.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	c.cache.SetWithTTL(id, j, 1, c.ttl)
	return j, nil
}

func (c *Cached) Update(ctx context.Context, id string, fn func(*Job) error) (Job, error) {
	j, err := c.Registry.Update(ctx, id, fn)
	c.cache.Delete(id)
	return j, err
}

func (c *Cached) Delete(ctx context.Context, id string) error {
	c.cache.Delete(id)
	return c.Registry.Delete(ctx, id)
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
