// Package directory wraps a core.DirectoryService with a profile cache.
package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/modoterra/vrcguard/pkg/core"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 5 * time.Minute
)

// Cached serves repeated profile lookups from memory. Ban and Invite pass
// straight through.
type Cached struct {
	next  core.DirectoryService
	cache *expirable.LRU[string, core.Profile]
}

// NewCached wraps next. Non-positive size or ttl fall back to the defaults.
func NewCached(next core.DirectoryService, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, core.Profile](size, nil, ttl),
	}
}

func (c *Cached) GetProfile(ctx context.Context, id string) (core.Profile, error) {
	if p, ok := c.cache.Get(id); ok {
		return p, nil
	}
	p, err := c.next.GetProfile(ctx, id)
	if err != nil {
		return core.Profile{}, err
	}
	c.cache.Add(id, p)
	return p, nil
}

func (c *Cached) Ban(ctx context.Context, groupID, id string) error {
	return c.next.Ban(ctx, groupID, id)
}

func (c *Cached) Invite(ctx context.Context, groupID, id string) error {
	return c.next.Invite(ctx, groupID, id)
}

// Invalidate drops the cached profile for id so the next lookup is fresh.
func (c *Cached) Invalidate(id string) {
	c.cache.Remove(id)
}

// Len returns the number of cached profiles.
func (c *Cached) Len() int {
	return c.cache.Len()
}
