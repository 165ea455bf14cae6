package fetcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(CacheOptions{PriceSize: 2, PriceTTL: time.Minute})
	c.SetPrices("a", []PricePoint{{ItemID: "A"}})
	c.SetPrices("b", []PricePoint{{ItemID: "B"}})

	// touch a so b becomes the eviction candidate
	if _, ok := c.Prices("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.SetPrices("c", []PricePoint{{ItemID: "C"}})

	if _, ok := c.Prices("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok := c.Prices("a"); !ok {
		t.Fatal("a should survive eviction")
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(CacheOptions{HistoryTTL: 20 * time.Millisecond})
	c.SetHistory("k", []HistoryPoint{{City: "Caerleon"}})
	if _, ok := c.History("k"); !ok {
		t.Fatal("fresh entry should be served")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.History("k"); ok {
		t.Fatal("stale entry should force a refetch")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewCache(CacheOptions{})
	c.SetPrices("k", []PricePoint{{SellPriceMin: decimal.NewFromInt(5)}})

	got, _ := c.Prices("k")
	got[0].SellPriceMin = decimal.NewFromInt(1)

	again, _ := c.Prices("k")
	if !again[0].SellPriceMin.Equal(decimal.NewFromInt(5)) {
		t.Fatal("callers must not mutate cached slices")
	}
}
