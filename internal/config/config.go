package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"albion-price-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the alert check cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// MarketConfig captures Albion data API connectivity.
type MarketConfig struct {
	Region            string            `mapstructure:"region"`
	BaseURLs          map[string]string `mapstructure:"base_urls"`
	DefaultCities     []string          `mapstructure:"default_cities"`
	RequestTimeout    time.Duration     `mapstructure:"request_timeout"`
	UserAgent         string            `mapstructure:"user_agent"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
	PriceCacheSize    int               `mapstructure:"price_cache_size"`
	PriceCacheTTL     time.Duration     `mapstructure:"price_cache_ttl"`
	HistoryCacheSize  int               `mapstructure:"history_cache_size"`
	HistoryCacheTTL   time.Duration     `mapstructure:"history_cache_ttl"`
}

// AlertingConfig defines evaluation policy and email routing.
type AlertingConfig struct {
	ReferenceCity    string      `mapstructure:"reference_city"`
	BaselineFallback string      `mapstructure:"baseline_fallback"`
	OutboxSize       int         `mapstructure:"outbox_size"`
	OutboxWorkers    int         `mapstructure:"outbox_workers"`
	Email            EmailConfig `mapstructure:"email"`
}

// EmailConfig selects and configures the outbound mail transport.
type EmailConfig struct {
	From        string        `mapstructure:"from"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	SMTP        SMTPConfig    `mapstructure:"smtp"`
	Resend      ResendConfig  `mapstructure:"resend"`
}

// SMTPConfig describes a STARTTLS SMTP relay.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ResendConfig describes the Resend HTTP API.
type ResendConfig struct {
	APIKey  string `mapstructure:"api_key"`
	APIBase string `mapstructure:"api_base"`
}

// ServerConfig exposes the external run-check trigger.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	CronSecret      string        `mapstructure:"cron_secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ALBIONWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "albionwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x616c6274))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("market.region", "europe")
	v.SetDefault("market.base_urls", map[string]string{
		"europe": "https://europe.albion-online-data.com",
		"west":   "https://west.albion-online-data.com",
		"east":   "https://east.albion-online-data.com",
	})
	v.SetDefault("market.default_cities", []string{
		"Bridgewatch", "Martlock", "Thetford", "Lymhurst", "FortSterling", "Caerleon",
	})
	v.SetDefault("market.request_timeout", "15s")
	v.SetDefault("market.user_agent", "")
	v.SetDefault("market.requests_per_second", 2.0)
	v.SetDefault("market.burst", 5)
	v.SetDefault("market.price_cache_size", 1000)
	v.SetDefault("market.price_cache_ttl", "5m")
	v.SetDefault("market.history_cache_size", 500)
	v.SetDefault("market.history_cache_ttl", "10m")

	v.SetDefault("alerting.reference_city", "Caerleon")
	v.SetDefault("alerting.baseline_fallback", "current_price")
	v.SetDefault("alerting.outbox_size", 256)
	v.SetDefault("alerting.outbox_workers", 2)
	v.SetDefault("alerting.email.send_timeout", "10s")
	v.SetDefault("alerting.email.smtp.port", 587)
	v.SetDefault("alerting.email.resend.api_base", "https://api.resend.com")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 2000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	var errs error
	if c.Export.MaxDataPoints <= 0 {
		errs = multierr.Append(errs, errors.New("export.max_data_points must be greater than zero"))
	}
	if c.Scheduler.Interval <= 0 && c.Scheduler.Cron == "" {
		errs = multierr.Append(errs, errors.New("scheduler.interval must be greater than zero when scheduler.cron is empty"))
	}
	if _, ok := c.Market.BaseURLs[strings.ToLower(c.Market.Region)]; !ok {
		errs = multierr.Append(errs, fmt.Errorf("market.region %q has no base url", c.Market.Region))
	}
	if c.Market.RequestsPerSecond <= 0 {
		errs = multierr.Append(errs, errors.New("market.requests_per_second must be greater than zero"))
	}
	if c.Market.PriceCacheSize <= 0 || c.Market.HistoryCacheSize <= 0 {
		errs = multierr.Append(errs, errors.New("market cache sizes must be greater than zero"))
	}
	switch c.Alerting.BaselineFallback {
	case "current_price", "skip":
	default:
		errs = multierr.Append(errs, fmt.Errorf("alerting.baseline_fallback must be current_price or skip, got %q", c.Alerting.BaselineFallback))
	}
	if c.Alerting.OutboxSize <= 0 || c.Alerting.OutboxWorkers <= 0 {
		errs = multierr.Append(errs, errors.New("alerting.outbox_size and alerting.outbox_workers must be greater than zero"))
	}
	if c.Alerting.Email.SMTP.Host != "" && c.Alerting.Email.From == "" {
		errs = multierr.Append(errs, errors.New("alerting.email.from is required when smtp is configured"))
	}
	if c.Alerting.Email.Resend.APIKey != "" && c.Alerting.Email.From == "" {
		errs = multierr.Append(errs, errors.New("alerting.email.from is required when resend is configured"))
	}
	return errs
}

// RegionBaseURL returns the base URL of the configured or requested region.
func (c *Config) RegionBaseURL(region string) (string, bool) {
	if region == "" {
		region = c.Market.Region
	}
	url, ok := c.Market.BaseURLs[strings.ToLower(region)]
	return url, ok
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
