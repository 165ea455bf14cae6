package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTestMarket(baseURL string) *Market {
	return NewMarket(MarketOptions{
		BaseURL:           baseURL,
		Region:            "europe",
		DefaultCities:     []string{"Caerleon", "Martlock"},
		Timeout:           time.Second,
		UserAgent:         "test",
		RequestsPerSecond: 1000,
		Burst:             100,
	}, NewCache(CacheOptions{}), noopLogger())
}

func TestFetchCurrentFiltersNonPositive(t *testing.T) {
	var gotPath, gotLocations, gotQualities string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLocations = r.URL.Query().Get("locations")
		gotQualities = r.URL.Query().Get("qualities")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"item_id":"T4_BAG","city":"Caerleon","quality":1,"sell_price_min":950,"sell_price_min_date":"2026-10-01T10:00:00"},
			{"item_id":"T4_BAG","city":"Martlock","quality":1,"sell_price_min":0,"sell_price_min_date":"0001-01-01T00:00:00"},
			{"item_id":"T4_BAG","city":"Thetford","quality":1,"sell_price_min":"oops"},
			{"item_id":"T4_BAG","city":"Lymhurst","quality":2,"sell_price_min":1200}
		]`))
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	points := m.FetchCurrent(context.Background(), []string{"t4_bag"}, nil, []int{1, 2})

	if gotPath != "/api/v2/stats/prices/T4_BAG.json" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotLocations != "Caerleon,Martlock" {
		t.Fatalf("default cities should be used, got %q", gotLocations)
	}
	if gotQualities != "1,2" {
		t.Fatalf("unexpected qualities %q", gotQualities)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 positive quotes, got %d", len(points))
	}
	if !points[0].SellPriceMin.Equal(decimal.NewFromInt(950)) || points[0].City != "Caerleon" {
		t.Fatalf("unexpected first quote %+v", points[0])
	}
	if points[0].ObservedAt.IsZero() {
		t.Fatal("observation time should be parsed")
	}
}

func TestFetchCurrentUsesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"item_id": "T4_BAG", "city": "Caerleon", "quality": 1, "sell_price_min": 100},
		})
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	for i := 0; i < 3; i++ {
		if got := m.FetchCurrent(context.Background(), []string{"T4_BAG"}, []string{"Caerleon"}, nil); len(got) != 1 {
			t.Fatalf("call %d: expected one quote, got %d", i, len(got))
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("cache should absorb repeated calls, upstream saw %d", calls)
	}

	// a different request shape is a different key
	m.FetchCurrent(context.Background(), []string{"T4_BAG"}, []string{"Martlock"}, nil)
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("distinct key should refetch, upstream saw %d", calls)
	}
}

func TestFetchCurrentSwallowsFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
			return
		}
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	if got := m.FetchCurrent(context.Background(), []string{"T4_BAG"}, nil, nil); len(got) != 0 {
		t.Fatalf("HTTP 500 should yield no data, got %d", len(got))
	}
	if got := m.FetchCurrent(context.Background(), []string{"T4_BAG"}, nil, nil); len(got) != 0 {
		t.Fatalf("malformed body should yield no data, got %d", len(got))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("empty results must not be cached, upstream saw %d", calls)
	}
}

func TestFetchCurrentUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := newTestMarket(url)
	if got := m.FetchCurrent(context.Background(), []string{"T4_BAG"}, nil, nil); got != nil {
		t.Fatalf("unreachable API should yield nil, got %v", got)
	}
}

func TestFetchHistoryParsesAndSorts(t *testing.T) {
	var gotPath, gotScale string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotScale = r.URL.Query().Get("time-scale")
		if r.URL.Query().Get("date") == "" {
			t.Errorf("date parameter should be set")
		}
		_, _ = w.Write([]byte(`[
			{"location":"Caerleon","item_id":"T4_BAG","quality":1,"data":[
				{"timestamp":"2026-10-03T00:00:00","avg_price":530,"item_count":4},
				{"timestamp":1759363200000,"avg_price":510,"item_count":2},
				{"timestamp":"garbage","avg_price":999,"item_count":1},
				{"timestamp":"2026-10-04T00:00:00","avg_price":0,"item_count":0}
			]},
			{"location":"Martlock","data":[
				{"timestamp":"1759276800000","avg_price":480,"item_count":7}
			]}
		]`))
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	points := m.FetchHistory(context.Background(), "t4_bag", []string{"Caerleon", "Martlock"}, 7, Resolution24h)

	if gotPath != "/api/v2/stats/history/T4_BAG.json" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotScale != "24" {
		t.Fatalf("24h should map to time-scale 24, got %s", gotScale)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 usable points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatalf("points not sorted ascending: %v", points)
		}
	}
	if points[0].City != "Martlock" || !points[0].AvgPrice.Equal(decimal.NewFromInt(480)) {
		t.Fatalf("unexpected earliest point %+v", points[0])
	}
	if points[2].Fields["item_count"] == nil {
		t.Fatal("raw fields should be kept")
	}
}

func TestFetchHistoryCachesPerShape(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`[{"location":"Caerleon","data":[{"timestamp":1759363200000,"avg_price":510,"item_count":2}]}]`))
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	m.FetchHistory(context.Background(), "T4_BAG", []string{"Caerleon"}, 7, Resolution6h)
	m.FetchHistory(context.Background(), "T4_BAG", []string{"Caerleon"}, 7, Resolution6h)
	m.FetchHistory(context.Background(), "T4_BAG", []string{"Caerleon"}, 14, Resolution6h)

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls)
	}
}

func TestResolutionTimeScale(t *testing.T) {
	cases := map[Resolution]int{Resolution1h: 1, Resolution6h: 6, Resolution24h: 24, "weird": 6}
	for res, want := range cases {
		if got := res.TimeScale(); got != want {
			t.Fatalf("%s: expected %d, got %d", res, want, got)
		}
	}
	if Resolution("2h").Valid() {
		t.Fatal("2h should not be valid")
	}
}

func TestParseHTTPError(t *testing.T) {
	err := parseHTTPError(http.StatusTooManyRequests, []byte(`{"error":"slow down"}`))
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected upstream message, got %v", err)
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
