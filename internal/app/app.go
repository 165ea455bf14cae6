package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"albion-price-alerts/internal/alerting"
	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/config"
	"albion-price-alerts/internal/fetcher"
	"albion-price-alerts/internal/scheduler"
	"albion-price-alerts/internal/server"
	"albion-price-alerts/internal/service"
	"albion-price-alerts/internal/storage"
	"albion-price-alerts/internal/version"
)

// MarketClient is the combined market data surface used by the commands.
type MarketClient interface {
	fetcher.PriceFetcher
	fetcher.HistoryFetcher
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	market MarketClient
	admin  storage.AdminStore
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// Market returns the process-wide market client; its cache is built once and shared.
func (a *App) Market() MarketClient {
	if a.market != nil {
		return a.market
	}

	cfg := a.Config.Market
	cache := fetcher.NewCache(fetcher.CacheOptions{
		PriceSize:   cfg.PriceCacheSize,
		PriceTTL:    cfg.PriceCacheTTL,
		HistorySize: cfg.HistoryCacheSize,
		HistoryTTL:  cfg.HistoryCacheTTL,
	})

	baseURL, _ := a.Config.RegionBaseURL("")
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	a.market = fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:           baseURL,
		Region:            cfg.Region,
		DefaultCities:     cfg.DefaultCities,
		Timeout:           cfg.RequestTimeout,
		UserAgent:         userAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, cache, a.Logger)
	return a.market
}

func (a *App) newEstimator() *baseline.Estimator {
	return baseline.NewEstimator(a.Market(), a.Logger)
}

// newMailer prefers Resend, then SMTP, then a log-only mailer.
func (a *App) newMailer() alerting.Mailer {
	email := a.Config.Alerting.Email
	switch {
	case email.Resend.APIKey != "":
		return alerting.NewResendMailer(email.Resend.APIKey, email.From, email.Resend.APIBase, email.SendTimeout, a.Logger)
	case email.SMTP.Host != "":
		return alerting.NewSMTPMailer(alerting.SMTPConfig{
			Host:     email.SMTP.Host,
			Port:     email.SMTP.Port,
			Username: email.SMTP.Username,
			Password: email.SMTP.Password,
			From:     email.From,
			Timeout:  email.SendTimeout,
		}, a.Logger)
	default:
		a.Logger.Warn().Msg("no email transport configured; alert emails will only be logged")
		return alerting.NewLogMailer(a.Logger)
	}
}

func (a *App) newOutbox(mailer alerting.Mailer) *alerting.Outbox {
	return alerting.NewOutbox(alerting.OutboxOptions{
		Size:        a.Config.Alerting.OutboxSize,
		Workers:     a.Config.Alerting.OutboxWorkers,
		SendTimeout: a.Config.Alerting.Email.SendTimeout,
	}, mailer, a.Logger)
}

func (a *App) newService(store service.Store, dispatcher service.Dispatcher, locker storage.AdvisoryLocker) *service.Service {
	return service.New(service.Options{
		ReferenceCity: a.Config.Alerting.ReferenceCity,
		Fallback:      service.FallbackPolicy(a.Config.Alerting.BaselineFallback),
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	}, a.Market(), a.newEstimator(), store, dispatcher, locker, a.Logger)
}

func (a *App) newRunner() (scheduler.Runner, error) {
	if a.Config.Scheduler.Cron != "" {
		return scheduler.NewCron(a.Config.Scheduler.Cron, a.Logger)
	}
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger), nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

// adminStore returns the operator facing store.
func (a *App) adminStore(ctx context.Context) (storage.AdminStore, func(), error) {
	if a.admin != nil {
		return a.admin, func() {}, nil
	}
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, closeStore, nil
}

// engine bundles what a check cycle needs against a real store.
type engine struct {
	svc    *service.Service
	outbox *alerting.Outbox
}

func (a *App) newEngine(store *storage.Store) engine {
	outbox := a.newOutbox(a.newMailer())
	dispatcher := alerting.NewDispatcher(store, outbox, a.Logger)
	return engine{svc: a.newService(store, dispatcher, store), outbox: outbox}
}

// Run executes the long-running scheduler, trigger server and email outbox.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}

	eng := a.newEngine(store)
	eng.outbox.Start(ctx)
	defer eng.outbox.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Str("task", name).Msg("task terminated with error")
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	launch("scheduler", func(ctx context.Context) error { return eng.svc.Run(ctx, runner) })
	if a.Config.Server.Enabled {
		srv := server.New(server.Options{
			Addr:            a.Config.Server.Addr,
			CronSecret:      a.Config.Server.CronSecret,
			ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		}, eng.svc, a.Logger)
		launch("http", srv.Run)
	}

	a.Logger.Info().Str("version", version.Version).Msg("albionwatch started")
	wg.Wait()
	a.Logger.Info().Msg("albionwatch stopped")
	return errs
}

// Check runs a single cycle and waits for queued emails to be delivered.
func (a *App) Check(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := a.newEngine(store)
	eng.outbox.Start(ctx)

	started := time.Now()
	res, err := eng.svc.RunCheck(ctx)
	eng.outbox.Close()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "checked=%d triggered=%d elapsed=%s\n", res.Checked, res.Triggered, time.Since(started).Round(time.Millisecond))
	return nil
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := storage.Migrate(ctx, store.Pool()); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}
