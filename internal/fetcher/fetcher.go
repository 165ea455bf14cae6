package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution is the bucket width of a historical series.
type Resolution string

const (
	Resolution1h  Resolution = "1h"
	Resolution6h  Resolution = "6h"
	Resolution24h Resolution = "24h"
)

// TimeScale maps the resolution onto the upstream time-scale parameter in hours.
// Unknown resolutions fall back to 6.
func (r Resolution) TimeScale() int {
	switch r {
	case Resolution1h:
		return 1
	case Resolution24h:
		return 24
	default:
		return 6
	}
}

// Valid reports whether r is one of the supported resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case Resolution1h, Resolution6h, Resolution24h:
		return true
	}
	return false
}

// PricePoint is one observed market quote. Never persisted.
type PricePoint struct {
	ItemID       string
	City         string
	Quality      int
	SellPriceMin decimal.Decimal
	ObservedAt   time.Time
}

// HistoryPoint is one bucketed historical observation.
type HistoryPoint struct {
	Timestamp time.Time
	City      string
	AvgPrice  decimal.Decimal
	ItemCount int64
	// Fields holds the raw upstream attributes of the point.
	Fields map[string]any
}

// PriceFetcher retrieves current sell quotes.
type PriceFetcher interface {
	FetchCurrent(ctx context.Context, items, cities []string, qualities []int) []PricePoint
}

// HistoryFetcher retrieves historical series for a single item.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, item string, cities []string, days int, res Resolution) []HistoryPoint
}
