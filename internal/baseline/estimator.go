// Package baseline derives an expected price from a historical series.
package baseline

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"albion-price-alerts/internal/fetcher"
)

// Statistic selects how extracted values collapse into one baseline.
type Statistic string

const (
	StatMedian Statistic = "median"
	StatMean   Statistic = "mean"
)

// priceKeys are tried in order; upstream history schemas differ across item types.
var priceKeys = []string{
	"sell_price_min",
	"sell_price_min_avg",
	"avg_sell_price",
	"sell_price_avg",
	"avg_price",
	"price",
	"value",
}

// Query describes one baseline computation.
type Query struct {
	ItemID     string
	Cities     []string
	Days       int
	Resolution fetcher.Resolution
	Statistic  Statistic
	MinPoints  int
}

// Estimator computes baselines from history pulled through a HistoryFetcher.
type Estimator struct {
	history fetcher.HistoryFetcher
	logger  zerolog.Logger
}

// NewEstimator wires the history source.
func NewEstimator(history fetcher.HistoryFetcher, logger zerolog.Logger) *Estimator {
	return &Estimator{history: history, logger: logger.With().Str("component", "baseline").Logger()}
}

// Estimate returns the baseline and true, or false when fewer than MinPoints
// usable values exist. It never returns zero as a stand-in for "unknown".
func (e *Estimator) Estimate(ctx context.Context, q Query) (decimal.Decimal, bool) {
	points := e.history.FetchHistory(ctx, strings.ToUpper(q.ItemID), q.Cities, q.Days, q.Resolution)
	values := ExtractPrices(points)

	value, ok := Compute(values, q.Statistic, q.MinPoints)
	e.logger.Debug().
		Str("item", q.ItemID).
		Int("points", len(points)).
		Int("values", len(values)).
		Bool("ok", ok).
		Str("baseline", value.String()).
		Msg("baseline estimated")
	return value, ok
}

// ExtractPrices takes the first strictly-positive numeric candidate field of
// every point, preserving order. Points without one are dropped.
func ExtractPrices(points []fetcher.HistoryPoint) []decimal.Decimal {
	values := make([]decimal.Decimal, 0, len(points))
	for _, p := range points {
		if v, ok := extractPrice(p.Fields); ok {
			values = append(values, v)
		}
	}
	return values
}

func extractPrice(fields map[string]any) (decimal.Decimal, bool) {
	for _, key := range priceKeys {
		raw, present := fields[key]
		if !present || raw == nil {
			continue
		}
		if _, isBool := raw.(bool); isBool {
			continue
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil || f <= 0 {
			continue
		}
		return decimal.NewFromFloat(f), true
	}
	return decimal.Decimal{}, false
}

// Compute collapses values with stat. Anything other than mean is a median.
func Compute(values []decimal.Decimal, stat Statistic, minPoints int) (decimal.Decimal, bool) {
	if minPoints < 1 {
		minPoints = 1
	}
	if len(values) < minPoints {
		return decimal.Decimal{}, false
	}
	if stat == StatMean {
		return Mean(values), true
	}
	return Median(values), true
}

// Mean is the arithmetic mean. values must be non-empty.
func Mean(values []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}

// Median averages the two middle values for even counts. values must be non-empty.
func Median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
