package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Yiling-J/theine-go"
)

// Cached wraps a HostGraph with bounded LRU-style caches for attribute and
// neighbor lookups. The host graph is read-only for the life of a job, so
// entries only expire to bound staleness across jobs. Returned maps and
// slices are shared and must not be modified.
type Cached struct {
	next  HostGraph
	ttl   time.Duration
	attrs *theine.Cache[string, map[string]string]
	nbrs  *theine.Cache[string, []Neighbor]
}

// NewCached caches up to size entries of each kind. ttl <= 0 disables expiry.
func NewCached(next HostGraph, size int64, ttl time.Duration) (*Cached, error) {
	attrs, err := theine.NewBuilder[string, map[string]string](size).Build()
	if err != nil {
		return nil, fmt.Errorf("build attribute cache: %w", err)
	}
	nbrs, err := theine.NewBuilder[string, []Neighbor](size).Build()
	if err != nil {
		attrs.Close()
		return nil, fmt.Errorf("build neighbor cache: %w", err)
	}
	return &Cached{next: next, ttl: ttl, attrs: attrs, nbrs: nbrs}, nil
}

// Close releases the caches.
func (c *Cached) Close() {
	c.attrs.Close()
	c.nbrs.Close()
}

func (c *Cached) NodeExists(ctx context.Context, id string) (bool, error) {
	if _, ok := c.attrs.Get(id); ok {
		return true, nil
	}
	return c.next.NodeExists(ctx, id)
}

func (c *Cached) NodeAttributes(ctx context.Context, id string) (map[string]string, error) {
	if v, ok := c.attrs.Get(id); ok {
		return v, nil
	}
	v, err := c.next.NodeAttributes(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]string{}
	}
	if c.ttl > 0 {
		c.attrs.SetWithTTL(id, v, int64(len(v)+1), c.ttl)
	} else {
		c.attrs.Set(id, v, int64(len(v)+1))
	}
	return v, nil
}

func (c *Cached) Neighbors(ctx context.Context, id string, dir Direction) ([]Neighbor, error) {
	key := dir.String() + "\x00" + id
	if v, ok := c.nbrs.Get(key); ok {
		return v, nil
	}
	v, err := c.next.Neighbors(ctx, id, dir)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.nbrs.SetWithTTL(key, v, int64(len(v)+1), c.ttl)
	} else {
		c.nbrs.Set(key, v, int64(len(v)+1))
	}
	return v, nil
}

// ScanNodes is not cached; it is only used for seeding.
func (c *Cached) ScanNodes(ctx context.Context, match map[string]string, fn NodeFunc) error {
	return c.next.ScanNodes(ctx, match, fn)
}
