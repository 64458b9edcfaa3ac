package airquality

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedCityLookup caches positive city existence answers in memory.
// Negative answers are never cached because a city can appear with the
// next ingestion. Call Flush after a reset.
type CachedCityLookup struct {
	next  CityLookup
	cache *cache.Cache
}

// NewCachedCityLookup wraps next with a cache. A zero ttl defaults to
// 10 minutes.
func NewCachedCityLookup(next CityLookup, ttl time.Duration) *CachedCityLookup {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &CachedCityLookup{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// CityExists answers from cache when possible.
func (c *CachedCityLookup) CityExists(ctx context.Context, name string) (bool, error) {
	if _, ok := c.cache.Get(name); ok {
		return true, nil
	}

	exists, err := c.next.CityExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		c.cache.SetDefault(name, struct{}{})
	}
	return exists, nil
}

// Flush drops every cached answer.
func (c *CachedCityLookup) Flush() {
	c.cache.Flush()
}

// Ensure CachedCityLookup implements CityLookup interface.
var _ CityLookup = (*CachedCityLookup)(nil)
