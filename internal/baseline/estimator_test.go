package baseline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/fetcher"
)

type staticHistory struct {
	points []fetcher.HistoryPoint
	calls  int
	last   string
}

func (s *staticHistory) FetchHistory(ctx context.Context, item string, cities []string, days int, res fetcher.Resolution) []fetcher.HistoryPoint {
	s.calls++
	s.last = item
	return s.points
}

func pointsFromFields(rows ...map[string]any) []fetcher.HistoryPoint {
	points := make([]fetcher.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, fetcher.HistoryPoint{Fields: r})
	}
	return points
}

func pricesOf(values ...int64) []fetcher.HistoryPoint {
	rows := make([]map[string]any, 0, len(values))
	for _, v := range values {
		rows = append(rows, map[string]any{"avg_price": float64(v), "item_count": 1})
	}
	return pointsFromFields(rows...)
}

func TestExtractPricesSkipsInvalid(t *testing.T) {
	points := pointsFromFields(
		map[string]any{"avg_price": 100.0},
		map[string]any{"avg_price": 0.0},
		map[string]any{"item_count": 3},
		map[string]any{"price": -5.0},
		map[string]any{"sell_price_min": 0, "avg_price": 200.0},
		map[string]any{"value": true},
		map[string]any{"value": "n/a"},
		map[string]any{"sell_price_avg": "300"},
		nil,
		map[string]any{"sell_price_min": 150, "avg_price": 999.0},
	)

	got := ExtractPrices(points)
	want := []int64{100, 200, 300, 150}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %v", len(want), got)
	}
	for i, w := range want {
		if !got[i].Equal(decimal.NewFromInt(w)) {
			t.Fatalf("value %d: expected %d, got %s", i, w, got[i])
		}
	}
}

func TestComputeBelowMinPoints(t *testing.T) {
	values := []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2)}
	for _, stat := range []Statistic{StatMedian, StatMean, "whatever"} {
		if _, ok := Compute(values, stat, 3); ok {
			t.Fatalf("%s: two values below min_points=3 must yield no baseline", stat)
		}
	}
	if _, ok := Compute(nil, StatMedian, 0); ok {
		t.Fatal("empty input must never produce a baseline")
	}
}

func TestComputeMedianAndMean(t *testing.T) {
	odd := []decimal.Decimal{decimal.NewFromInt(700), decimal.NewFromInt(400), decimal.NewFromInt(500)}
	if got, _ := Compute(odd, StatMedian, 3); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("median of odd set: got %s", got)
	}
	even := []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(40), decimal.NewFromInt(20), decimal.NewFromInt(30)}
	if got, _ := Compute(even, "", 1); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("median of even set should average middles: got %s", got)
	}
	if got, _ := Compute(odd, StatMean, 1); !got.Equal(decimal.NewFromInt(1600).Div(decimal.NewFromInt(3))) {
		t.Fatalf("mean: got %s", got)
	}
	// input must stay untouched
	if !odd[0].Equal(decimal.NewFromInt(700)) {
		t.Fatal("median must not reorder the caller's slice")
	}
}

func TestEstimateMedianResistsSpike(t *testing.T) {
	src := &staticHistory{points: pricesOf(480, 500, 510, 495, 505, 9000, 490, 520, 500, 515)}
	est := NewEstimator(src, zerolog.Nop())

	got, ok := est.Estimate(context.Background(), Query{ItemID: "t4_bag", Cities: []string{"Caerleon"}, Days: 7, Resolution: fetcher.Resolution6h, MinPoints: 10})
	if !ok {
		t.Fatal("10 values with min_points=10 should yield a baseline")
	}
	if !got.Equal(decimal.NewFromInt(502).Add(decimal.NewFromFloat(0.5))) {
		t.Fatalf("expected median 502.5, got %s", got)
	}
	if src.last != "T4_BAG" {
		t.Fatalf("item should be upper-cased, got %s", src.last)
	}
}

func TestEstimateInsufficientHistory(t *testing.T) {
	est := NewEstimator(&staticHistory{points: pricesOf(500, 510)}, zerolog.Nop())
	if _, ok := est.Estimate(context.Background(), Query{ItemID: "T4_BAG", MinPoints: 10}); ok {
		t.Fatal("insufficient history must fail closed")
	}
}
