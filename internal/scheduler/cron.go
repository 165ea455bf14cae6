package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronScheduler runs ticks on a standard five-field cron expression (UTC).
type CronScheduler struct {
	spec     string
	schedule cron.Schedule
	logger   zerolog.Logger
}

// NewCron validates spec and returns a scheduler for it.
func NewCron(spec string, logger zerolog.Logger) (*CronScheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &CronScheduler{
		spec:     spec,
		schedule: schedule,
		logger:   logger.With().Str("component", "scheduler").Str("cron", spec).Logger(),
	}, nil
}

// Next returns the first activation after t.
func (c *CronScheduler) Next(t time.Time) time.Time {
	return c.schedule.Next(t.UTC())
}

// Run blocks until ctx is cancelled. Overlapping activations are skipped.
func (c *CronScheduler) Run(ctx context.Context, tick TickFunc) error {
	adapter := cronLogger{logger: c.logger}
	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	runner.Schedule(c.schedule, cron.FuncJob(func() {
		bucket := time.Now().UTC().Truncate(time.Minute)
		c.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
		if err := tick(ctx, bucket); err != nil {
			c.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}
	}))

	runner.Start()
	c.logger.Info().Time("next_run", c.Next(time.Now())).Msg("cron started")

	<-ctx.Done()
	<-runner.Stop().Done()
	c.logger.Info().Msg("cron stopped")
	return ctx.Err()
}

// cronLogger routes robfig/cron diagnostics into zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

var _ Runner = (*CronScheduler)(nil)
