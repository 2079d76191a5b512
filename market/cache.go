package market

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheTTL  = 30 * time.Minute
	DefaultCacheSize = 256
)

// Cache memoizes Bars results of an underlying provider for a TTL. Returned
// slices are copies, so callers may modify them.
type Cache struct {
	src Provider
	lru *expirable.LRU[string, []Bar]
}

// NewCache wraps src. Non-positive size or ttl fall back to the defaults.
func NewCache(src Provider, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		src: src,
		lru: expirable.NewLRU[string, []Bar](size, nil, ttl),
	}
}

func cacheKey(symbol string, g Granularity, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%d", symbol, g, start.UnixNano(), end.UnixNano())
}

func (c *Cache) Bars(ctx context.Context, symbol string, g Granularity, start, end time.Time) ([]Bar, error) {
	key := cacheKey(symbol, g, start, end)
	if bars, ok := c.lru.Get(key); ok {
		return append([]Bar(nil), bars...), nil
	}

	bars, err := c.src.Bars(ctx, symbol, g, start, end)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, append([]Bar(nil), bars...))
	return bars, nil
}

// Purge drops every cached entry.
func (c *Cache) Purge() { c.lru.Purge() }

// Len is the number of live entries.
func (c *Cache) Len() int { return c.lru.Len() }
