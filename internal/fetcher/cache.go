package fetcher

import (
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheOptions size and expire the response caches.
type CacheOptions struct {
	PriceSize   int
	PriceTTL    time.Duration
	HistorySize int
	HistoryTTL  time.Duration
}

// Cache holds bounded LRU+TTL stores for price and history responses.
// Safe for concurrent use; built once and shared by every caller of a Market.
type Cache struct {
	prices  *expirable.LRU[string, []PricePoint]
	history *expirable.LRU[string, []HistoryPoint]
}

// NewCache constructs both stores, applying defaults for zero options.
func NewCache(opts CacheOptions) *Cache {
	if opts.PriceSize <= 0 {
		opts.PriceSize = 1000
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = 5 * time.Minute
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 500
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 10 * time.Minute
	}

	return &Cache{
		prices:  expirable.NewLRU[string, []PricePoint](opts.PriceSize, nil, opts.PriceTTL),
		history: expirable.NewLRU[string, []HistoryPoint](opts.HistorySize, nil, opts.HistoryTTL),
	}
}

// Prices returns a copy of the cached quotes for key.
func (c *Cache) Prices(key string) ([]PricePoint, bool) {
	v, ok := c.prices.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// SetPrices stores quotes under key.
func (c *Cache) SetPrices(key string, points []PricePoint) {
	c.prices.Add(key, slices.Clone(points))
}

// History returns a copy of the cached series for key.
func (c *Cache) History(key string) ([]HistoryPoint, bool) {
	v, ok := c.history.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// SetHistory stores a series under key.
func (c *Cache) SetHistory(key string, points []HistoryPoint) {
	c.history.Add(key, slices.Clone(points))
}

// Len reports the number of live entries in each store.
func (c *Cache) Len() (prices, history int) {
	return c.prices.Len(), c.history.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.prices.Purge()
	c.history.Purge()
}
