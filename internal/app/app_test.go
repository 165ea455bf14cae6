package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/config"
	"albion-price-alerts/internal/fetcher"
	"albion-price-alerts/internal/service"
	"albion-price-alerts/internal/storage"
)

type fakeMarket struct {
	quotes  []fetcher.PricePoint
	history []fetcher.HistoryPoint
}

func (f *fakeMarket) FetchCurrent(ctx context.Context, items, cities []string, qualities []int) []fetcher.PricePoint {
	return f.quotes
}

func (f *fakeMarket) FetchHistory(ctx context.Context, item string, cities []string, days int, res fetcher.Resolution) []fetcher.HistoryPoint {
	return f.history
}

func flatHistory(n int, value float64) []fetcher.HistoryPoint {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	points := make([]fetcher.HistoryPoint, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, fetcher.HistoryPoint{
			Timestamp: start.Add(time.Duration(i) * 6 * time.Hour),
			City:      "Caerleon",
			AvgPrice:  decimal.NewFromFloat(value),
			ItemCount: 4,
			Fields:    map[string]any{"avg_price": value},
		})
	}
	return points
}

func newTestApp(t *testing.T, market MarketClient) (*App, *storage.MemoryStore, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Alerting.ReferenceCity = "Caerleon"
	cfg.Alerting.BaselineFallback = "current_price"
	cfg.Export.MaxDataPoints = 100

	store := storage.NewMemoryStore()
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	a.market = market
	a.admin = store
	return a, store, out
}

func TestAddAlertStoresDefaults(t *testing.T) {
	a, store, out := newTestApp(t, &fakeMarket{})
	ctx := context.Background()

	created, err := a.AddAlert(ctx, AlertOptions{
		Email:           "trader@example.com",
		ItemID:          "t6_2h_bow",
		PercentBelow:    "20",
		UseAIExpected:   true,
		CooldownMinutes: 30,
	})
	if err != nil {
		t.Fatalf("add alert: %v", err)
	}
	if created.ItemID != "T6_2H_BOW" || created.AIDays != 7 || created.AIResolution != "6h" || created.AIStat != "median" || created.AIMinPoints != 10 {
		t.Fatalf("unexpected stored alert %+v", created)
	}
	if !created.IsActive {
		t.Fatal("new alerts are active by default")
	}
	if !strings.Contains(out.String(), "ai_discount") {
		t.Fatalf("unexpected output %q", out.String())
	}

	alerts, _ := store.ListAlerts(ctx, 0)
	if len(alerts) != 1 {
		t.Fatalf("expected one stored alert, got %d", len(alerts))
	}
}

func TestAddAlertRejectsInvalidDefinitions(t *testing.T) {
	a, store, _ := newTestApp(t, &fakeMarket{})
	ctx := context.Background()

	cases := map[string]AlertOptions{
		"no rule":       {Email: "a@example.com", ItemID: "T4_BAG"},
		"bad percent":   {Email: "a@example.com", ItemID: "T4_BAG", ExpectedPrice: "1000", PercentBelow: "150"},
		"bad decimal":   {Email: "a@example.com", ItemID: "T4_BAG", TargetPrice: "cheap"},
		"bad email":     {Email: "not-an-email", ItemID: "T4_BAG", TargetPrice: "100"},
		"bad ai window": {Email: "a@example.com", ItemID: "T4_BAG", PercentBelow: "10", UseAIExpected: true, AIDays: 45},
		"missing item":  {Email: "a@example.com", TargetPrice: "100"},
	}
	for name, opts := range cases {
		if _, err := a.AddAlert(ctx, opts); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
	if alerts, _ := store.ListAlerts(ctx, 0); len(alerts) != 0 {
		t.Fatalf("rejected alerts must not be stored, found %d", len(alerts))
	}
}

func TestListAlertsAndToggle(t *testing.T) {
	a, _, out := newTestApp(t, &fakeMarket{})
	ctx := context.Background()

	created, err := a.AddAlert(ctx, AlertOptions{
		Email:         "a@example.com",
		ItemID:        "T4_BAG",
		City:          "Martlock",
		TargetPrice:   "1500",
		ExpectedPrice: "2000",
		PercentBelow:  "10",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetAlertActive(ctx, created.ID, false); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := a.ListAlerts(ctx, ListOptions{}); err != nil {
		t.Fatal(err)
	}
	listing := out.String()
	for _, want := range []string{"threshold+manual_discount", "<= 1500 or 10.0% below 2000", "Martlock", "false"} {
		if !strings.Contains(listing, want) {
			t.Fatalf("listing lacks %q:\n%s", want, listing)
		}
	}

	if err := a.DeleteAlert(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if err := a.DeleteAlert(ctx, created.ID); err == nil {
		t.Fatal("deleting twice should fail")
	}
}

func TestHistoryPrintsBaseline(t *testing.T) {
	market := &fakeMarket{history: flatHistory(12, 950)}
	a, _, out := newTestApp(t, market)

	if err := a.History(context.Background(), HistoryOptions{ItemID: "t4_bag"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "baseline (median of 12 points): 950.00") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	market.history = flatHistory(3, 950)
	out.Reset()
	if err := a.History(context.Background(), HistoryOptions{ItemID: "t4_bag"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "insufficient history") {
		t.Fatalf("short history must not yield a baseline:\n%s", out.String())
	}

	if err := a.History(context.Background(), HistoryOptions{ItemID: "t4_bag", Resolution: "2h"}); err == nil {
		t.Fatal("unsupported resolution should be rejected")
	}
}

func TestExportWritesFiles(t *testing.T) {
	a, _, _ := newTestApp(t, &fakeMarket{history: flatHistory(40, 1200)})
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "history.csv")
	pngPath := filepath.Join(dir, "out", "history.png")

	err := a.Export(context.Background(), ExportOptions{
		History:   HistoryOptions{ItemID: "T4_BAG"},
		CSVPath:   csvPath,
		PNGPath:   pngPath,
		MaxPoints: 10,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 11 || lines[0] != "timestamp,city,avg_price,item_count" {
		t.Fatalf("unexpected csv (%d lines):\n%s", len(lines), data)
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}

	if err := a.Export(context.Background(), ExportOptions{History: HistoryOptions{ItemID: "T4_BAG"}}); err == nil {
		t.Fatal("export without outputs should fail")
	}
}

func TestDownsampleKeepsEnds(t *testing.T) {
	points := flatHistory(100, 1)
	got := downsamplePoints(points, 5)
	if len(got) != 5 {
		t.Fatalf("expected 5 points, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(points[0].Timestamp) || !got[4].Timestamp.Equal(points[99].Timestamp) {
		t.Fatal("downsampling must keep the first and last point")
	}
	if len(downsamplePoints(points, 0)) != 100 {
		t.Fatal("zero max keeps every point")
	}
}

func TestBackfillDryRunLeavesMemoUntouched(t *testing.T) {
	a, store, out := newTestApp(t, &fakeMarket{history: flatHistory(12, 800)})
	ctx := context.Background()

	created, err := a.AddAlert(ctx, AlertOptions{Email: "a@example.com", ItemID: "T5_BAG", PercentBelow: "25", UseAIExpected: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.backfill(ctx, store, BackfillOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetAlert(ctx, created.ID)
	if got.LastExpectedPrice != nil {
		t.Fatal("dry run must not write")
	}
	if !strings.Contains(out.String(), "800.00") {
		t.Fatalf("dry run should still report the baseline:\n%s", out.String())
	}

	if err := a.backfill(ctx, store, BackfillOptions{}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetAlert(ctx, created.ID)
	if got.LastExpectedPrice == nil || !got.LastExpectedPrice.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected memoized baseline 800, got %v", got.LastExpectedPrice)
	}
}

func TestSimulateAlert(t *testing.T) {
	a, _, out := newTestApp(t, &fakeMarket{})
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	history := make([]string, 10)
	for i := range history {
		history[i] = "1000"
	}
	d, err := a.SimulateAlert(ctx, SimulateOptions{
		Alert:         AlertOptions{Email: "a@example.com", ItemID: "T4_BAG", DisplayName: "Adept's Bag", PercentBelow: "20", UseAIExpected: true},
		CurrentPrice:  "780",
		HistoryPrices: history,
		Now:           now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != service.OutcomeFired || d.Baseline == nil || !d.Baseline.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected decision %+v", d)
	}
	if !strings.Contains(out.String(), "Adept's Bag reached 780 (expected ~1000, -20%).") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	out.Reset()
	d, err = a.SimulateAlert(ctx, SimulateOptions{
		Alert:        AlertOptions{Email: "a@example.com", ItemID: "T4_BAG", TargetPrice: "700"},
		CurrentPrice: "780",
		Now:          now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != service.OutcomeNoMatch {
		t.Fatalf("price above target must not fire, got %s", d.Outcome)
	}
}
