package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  environment: test\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("expected 5m interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Market.RequestTimeout != 15*time.Second {
		t.Fatalf("expected 15s market timeout, got %s", cfg.Market.RequestTimeout)
	}
	if cfg.Alerting.ReferenceCity != "Caerleon" {
		t.Fatalf("unexpected reference city %q", cfg.Alerting.ReferenceCity)
	}
	if len(cfg.Market.DefaultCities) != 6 {
		t.Fatalf("expected 6 default cities, got %v", cfg.Market.DefaultCities)
	}
	if url, ok := cfg.RegionBaseURL("WEST"); !ok || !strings.Contains(url, "west") {
		t.Fatalf("west region should resolve, got %q", url)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "scheduler:\n  interval: 1m\nalerting:\n  baseline_fallback: skip\nmarket:\n  price_cache_ttl: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("interval override ignored: %s", cfg.Scheduler.Interval)
	}
	if cfg.Alerting.BaselineFallback != "skip" {
		t.Fatalf("fallback override ignored: %s", cfg.Alerting.BaselineFallback)
	}
	if cfg.Market.PriceCacheTTL != 30*time.Second {
		t.Fatalf("cache ttl override ignored: %s", cfg.Market.PriceCacheTTL)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Market:   MarketConfig{Region: "mars"},
		Alerting: AlertingConfig{BaselineFallback: "guess"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config should fail validation")
	}
	msg := err.Error()
	for _, want := range []string{"export.max_data_points", "market.region", "baseline_fallback", "outbox"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("validation error should mention %q: %s", want, msg)
		}
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	if cfg.ResolveMaxPoints(0) != 100 {
		t.Fatal("zero override should use config")
	}
	if cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("positive override should win")
	}
}
