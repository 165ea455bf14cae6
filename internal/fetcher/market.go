package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"
)

const (
	pricesPath  = "/api/v2/stats/prices/"
	historyPath = "/api/v2/stats/history/"

	upstreamTimeLayout = "2006-01-02T15:04:05"
	historyDateLayout  = "1-2-2006"
)

// MarketOptions parameterise the Albion data API client.
type MarketOptions struct {
	BaseURL           string
	Region            string
	DefaultCities     []string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
}

// Market fetches quotes and price history from the Albion data API.
// Every failure degrades to an empty result; callers cannot tell "no market"
// from "API unreachable".
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	cache   *Cache
	limiter *rate.Limiter
	now     func() time.Time
}

// NewMarket constructs a market fetcher. cache may be shared across fetchers.
func NewMarket(opts MarketOptions, cache *Cache, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://europe.albion-online-data.com"
	}
	if opts.Region == "" {
		opts.Region = "europe"
	}
	if cache == nil {
		cache = NewCache(CacheOptions{})
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Str("region", opts.Region).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
}

// FetchCurrent returns strictly-positive sell quotes for the given items.
// Empty cities fall back to the default city set; empty qualities mean all.
func (m *Market) FetchCurrent(ctx context.Context, items, cities []string, qualities []int) []PricePoint {
	items = normalizeItems(items)
	if len(items) == 0 {
		return nil
	}
	if len(cities) == 0 {
		cities = m.opts.DefaultCities
	}

	qualityStrs := make([]string, 0, len(qualities))
	for _, q := range qualities {
		qualityStrs = append(qualityStrs, strconv.Itoa(q))
	}

	key := fmt.Sprintf("prices:%s:%s:%s:%s",
		strings.Join(items, ","), strings.Join(cities, ","), strings.Join(qualityStrs, ","), m.opts.Region)
	if cached, ok := m.cache.Prices(key); ok {
		return cached
	}

	query := url.Values{}
	if len(cities) > 0 {
		query.Set("locations", strings.Join(cities, ","))
	}
	if len(qualityStrs) > 0 {
		query.Set("qualities", strings.Join(qualityStrs, ","))
	}

	endpoint := m.baseURL + pricesPath + url.PathEscape(strings.Join(items, ",")) + ".json"
	payload, err := m.get(ctx, endpoint, query)
	if err != nil {
		m.logger.Warn().Err(err).Strs("items", items).Msg("price request failed")
		return nil
	}

	points, err := decodeQuotes(payload)
	if err != nil {
		m.logger.Warn().Err(err).Strs("items", items).Msg("malformed price response")
		return nil
	}

	if len(points) > 0 {
		m.cache.SetPrices(key, points)
	}
	return points
}

// FetchHistory returns the bucketed series for one item sorted by timestamp.
func (m *Market) FetchHistory(ctx context.Context, item string, cities []string, days int, res Resolution) []HistoryPoint {
	item = strings.ToUpper(strings.TrimSpace(item))
	if item == "" {
		return nil
	}
	if len(cities) == 0 {
		cities = m.opts.DefaultCities
	}
	if days <= 0 {
		days = 7
	}

	key := fmt.Sprintf("history:%s:%s:%d:%s:%s", item, strings.Join(cities, ","), days, res, m.opts.Region)
	if cached, ok := m.cache.History(key); ok {
		return cached
	}

	now := m.now().UTC()
	query := url.Values{}
	query.Set("locations", strings.Join(cities, ","))
	query.Set("time-scale", strconv.Itoa(res.TimeScale()))
	query.Set("date", now.AddDate(0, 0, -days).Format(historyDateLayout))
	query.Set("end_date", now.Format(historyDateLayout))

	endpoint := m.baseURL + historyPath + url.PathEscape(item) + ".json"
	payload, err := m.get(ctx, endpoint, query)
	if err != nil {
		m.logger.Warn().Err(err).Str("item", item).Msg("history request failed")
		return nil
	}

	points, err := decodeHistory(payload)
	if err != nil {
		m.logger.Warn().Err(err).Str("item", item).Msg("malformed history response")
		return nil
	}

	if len(points) > 0 {
		m.cache.SetHistory(key, points)
	}
	return points
}

func (m *Market) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "albionwatch/1.0")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type quoteResponse struct {
	ItemID           string          `json:"item_id"`
	City             string          `json:"city"`
	Quality          int             `json:"quality"`
	SellPriceMin     decimal.Decimal `json:"sell_price_min"`
	SellPriceMinDate string          `json:"sell_price_min_date"`
}

// decodeQuotes tolerates individually malformed entries; only a body that is
// not a JSON array fails as a whole.
func decodeQuotes(payload []byte) ([]PricePoint, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, err
	}

	points := make([]PricePoint, 0, len(entries))
	for _, raw := range entries {
		var q quoteResponse
		if err := json.Unmarshal(raw, &q); err != nil {
			continue
		}
		if !q.SellPriceMin.IsPositive() {
			continue
		}
		observed, _ := parseTimestamp(q.SellPriceMinDate)
		points = append(points, PricePoint{
			ItemID:       q.ItemID,
			City:         q.City,
			Quality:      q.Quality,
			SellPriceMin: q.SellPriceMin,
			ObservedAt:   observed,
		})
	}
	return points, nil
}

type historySeries struct {
	Location string           `json:"location"`
	ItemID   string           `json:"item_id"`
	Quality  int              `json:"quality"`
	Data     []map[string]any `json:"data"`
}

func decodeHistory(payload []byte) ([]HistoryPoint, error) {
	var series []historySeries
	if err := json.Unmarshal(payload, &series); err != nil {
		return nil, err
	}

	points := make([]HistoryPoint, 0)
	for _, s := range series {
		for _, raw := range s.Data {
			if raw == nil {
				continue
			}
			ts, ok := parseTimestamp(raw["timestamp"])
			if !ok {
				continue
			}
			avg := cast.ToFloat64(raw["avg_price"])
			count := cast.ToInt64(raw["item_count"])
			if avg == 0 && count == 0 {
				continue
			}
			points = append(points, HistoryPoint{
				Timestamp: ts,
				City:      s.Location,
				AvgPrice:  decimal.NewFromFloat(avg),
				ItemCount: count,
				Fields:    raw,
			})
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) and
// ISO-8601 strings with or without zone.
func parseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return time.Time{}, false
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range []string{time.RFC3339Nano, upstreamTimeLayout, "2006-01-02T15:04:05.999999999"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case bool:
		return time.Time{}, false
	default:
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
}

func normalizeItems(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.ToUpper(strings.TrimSpace(it))
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("albion api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("albion api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 && len(payload) < 512 {
		return fmt.Errorf("albion api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("albion api error (%d)", status)
}

var (
	_ PriceFetcher   = (*Market)(nil)
	_ HistoryFetcher = (*Market)(nil)
)
