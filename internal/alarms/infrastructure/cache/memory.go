package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	alarms "alarm-engine/internal/alarms/domain"
)

const defaultCleanupInterval = time.Minute

// MemoryCache is an in-process cache with per-entry expiry.
type MemoryCache struct {
	entries *gocache.Cache
}

// NewMemoryCache constructs a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: gocache.New(ttl, defaultCleanupInterval)}
}

// Get returns a cached entry.
func (c *MemoryCache) Get(_ context.Context, key string) (alarms.Entry, bool, error) {
	v, ok := c.entries.Get(key)
	if !ok {
		return alarms.Entry{}, false, nil
	}
	entry, ok := v.(alarms.Entry)
	return entry, ok, nil
}

// Set stores an entry with the default expiry.
func (c *MemoryCache) Set(_ context.Context, key string, entry alarms.Entry) error {
	c.entries.SetDefault(key, entry)
	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Delete(key)
	return nil
}
