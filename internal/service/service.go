package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/alerting"
	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/fetcher"
	"albion-price-alerts/internal/rules"
	"albion-price-alerts/internal/scheduler"
	"albion-price-alerts/internal/storage"
)

// ErrCycleInProgress is returned when another process holds the cycle lock.
var ErrCycleInProgress = errors.New("service: check cycle already running elsewhere")

// FallbackPolicy decides what happens when an AI baseline cannot be computed.
type FallbackPolicy string

const (
	// FallbackCurrentPrice uses the current price as baseline, which
	// neutralises the percentage check for that cycle.
	FallbackCurrentPrice FallbackPolicy = "current_price"
	// FallbackSkip leaves the alert unevaluated until history is sufficient.
	FallbackSkip FallbackPolicy = "skip"
)

// Outcome labels how one alert left the cycle.
type Outcome string

const (
	OutcomeNoQuote    Outcome = "no_quote"
	OutcomeCooldown   Outcome = "cooldown"
	OutcomeNoRule     Outcome = "no_rule"
	OutcomeNoBaseline Outcome = "no_baseline"
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeFired      Outcome = "fired"
	OutcomeGone       Outcome = "gone"
	OutcomeFault      Outcome = "fault"
)

// Decision records the evaluation of one alert.
type Decision struct {
	AlertID   int64
	ItemID    string
	Outcome   Outcome
	Rule      rules.Kind
	City      string
	Current   decimal.Decimal
	Baseline  *decimal.Decimal
	Threshold *decimal.Decimal
}

// CycleResult is the aggregate of one check cycle.
type CycleResult struct {
	CycleID   string     `json:"-"`
	Checked   int        `json:"checked"`
	Triggered int        `json:"triggered"`
	Decisions []Decision `json:"-"`
}

// Estimator yields a baseline or reports there is none.
type Estimator interface {
	Estimate(ctx context.Context, q baseline.Query) (decimal.Decimal, bool)
}

// Dispatcher durably records a trigger and hands off the email.
type Dispatcher interface {
	Fire(ctx context.Context, t alerting.Trigger, at time.Time) (storage.UserNotification, error)
}

// Store is the persistence a cycle reads and writes.
type Store interface {
	storage.AlertReader
	storage.BaselineWriter
}

// Options tune evaluation policy.
type Options struct {
	ReferenceCity string
	Fallback      FallbackPolicy
	LockKey       int64
}

// Service runs alert check cycles.
type Service struct {
	opts       Options
	prices     fetcher.PriceFetcher
	estimator  Estimator
	store      Store
	dispatcher Dispatcher
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	sem chan struct{}
	now func() time.Time
}

// New constructs the evaluation service. locker may be nil.
func New(opts Options, prices fetcher.PriceFetcher, estimator Estimator, store Store, dispatcher Dispatcher, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	if opts.ReferenceCity == "" {
		opts.ReferenceCity = "Caerleon"
	}
	if opts.Fallback == "" {
		opts.Fallback = FallbackCurrentPrice
	}
	return &Service{
		opts:       opts,
		prices:     prices,
		estimator:  estimator,
		store:      store,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		sem:        make(chan struct{}, 1),
		now:        time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Run drives RunCheck from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context, runner scheduler.Runner) error {
	if runner == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return runner.Run(ctx, s.Tick)
}

// Tick adapts RunCheck to the scheduler.
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	_, err := s.RunCheck(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	return err
}

// RunCheck evaluates every active alert once. Cycles never overlap: callers
// in this process queue behind each other, other processes get ErrCycleInProgress.
// ctx only bounds the wait for the cycle slot.
func (s *Service) RunCheck(ctx context.Context) (CycleResult, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return CycleResult{}, err
	}
	if !proceed {
		return CycleResult{}, ErrCycleInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	// once started a cycle runs to completion
	return s.executeCycle(context.WithoutCancel(ctx))
}

func (s *Service) executeCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{CycleID: uuid.NewString()}
	logger := s.logger.With().Str("cycle_id", result.CycleID).Logger()
	started := s.now()

	alerts, err := s.store.ListActiveAlerts(ctx)
	if err != nil {
		return result, fmt.Errorf("list active alerts: %w", err)
	}

	for _, alert := range alerts {
		result.Checked++
		decision, err := s.safeEvaluate(ctx, alert, logger)
		if err != nil {
			logger.Error().Err(err).Int64("alert_id", alert.ID).Int("checked", result.Checked).Msg("cycle aborted")
			return result, err
		}
		if decision.Outcome == OutcomeFired {
			result.Triggered++
		}
		result.Decisions = append(result.Decisions, decision)
	}

	logger.Info().
		Int("checked", result.Checked).
		Int("triggered", result.Triggered).
		Dur("elapsed", s.now().Sub(started)).
		Msg("check cycle complete")
	return result, nil
}

// safeEvaluate isolates one alert: panics become a logged fault, only
// persistence failures escape.
func (s *Service) safeEvaluate(ctx context.Context, alert storage.PriceAlert, logger zerolog.Logger) (decision Decision, err error) {
	alertLogger := logger.With().Int64("alert_id", alert.ID).Str("item", alert.ItemID).Logger()
	defer func() {
		if r := recover(); r != nil {
			alertLogger.Error().Interface("panic", r).Msg("alert evaluation fault")
			decision = Decision{AlertID: alert.ID, ItemID: alert.ItemID, Outcome: OutcomeFault}
			err = nil
		}
	}()

	decision, err = s.evaluate(ctx, alert, alertLogger)
	if errors.Is(err, storage.ErrNotFound) {
		alertLogger.Warn().Err(err).Msg("alert vanished during evaluation")
		return Decision{AlertID: alert.ID, ItemID: alert.ItemID, Outcome: OutcomeGone}, nil
	}
	if err != nil {
		return decision, err
	}
	alertLogger.Debug().
		Str("outcome", string(decision.Outcome)).
		Str("rule", string(decision.Rule)).
		Str("current", decision.Current.String()).
		Msg("alert evaluated")
	return decision, nil
}

func (s *Service) evaluate(ctx context.Context, alert storage.PriceAlert, logger zerolog.Logger) (Decision, error) {
	decision := Decision{AlertID: alert.ID, ItemID: alert.ItemID}

	current, city, ok := s.currentPrice(ctx, alert)
	if !ok {
		decision.Outcome = OutcomeNoQuote
		return decision, nil
	}
	decision.Current = current
	decision.City = city

	now := s.now().UTC()
	if alert.InCooldown(now) {
		decision.Outcome = OutcomeCooldown
		return decision, nil
	}

	rule, err := rules.Resolve(alert.Definition())
	if err != nil {
		logger.Warn().Err(err).Msg("alert has no usable rule")
		decision.Outcome = OutcomeNoRule
		return decision, nil
	}
	decision.Rule = rule.Kind()

	if th, isThreshold := rule.(rules.Threshold); isThreshold {
		if current.LessThanOrEqual(th.Target) {
			target := th.Target
			decision.Threshold = &target
			return s.fire(ctx, alert, decision, now)
		}
		if th.Fallback == nil {
			decision.Outcome = OutcomeNoMatch
			return decision, nil
		}
		rule = th.Fallback
	}

	base, ok, err := s.discountBaseline(ctx, alert, rule, current, now, logger)
	if err != nil {
		return decision, err
	}
	if !ok {
		decision.Outcome = OutcomeNoBaseline
		return decision, nil
	}
	decision.Baseline = &base

	threshold := rules.DiscountThreshold(base, percentOf(rule))
	decision.Threshold = &threshold
	if current.LessThanOrEqual(threshold) {
		return s.fire(ctx, alert, decision, now)
	}
	decision.Outcome = OutcomeNoMatch
	return decision, nil
}

// currentPrice is the cheapest strictly-positive quote and its city.
func (s *Service) currentPrice(ctx context.Context, alert storage.PriceAlert) (decimal.Decimal, string, bool) {
	var cities []string
	if alert.City != nil && *alert.City != "" {
		cities = []string{*alert.City}
	}
	var qualities []int
	if alert.Quality != nil {
		qualities = []int{*alert.Quality}
	}

	var (
		best  decimal.Decimal
		city  string
		found bool
	)
	for _, q := range s.prices.FetchCurrent(ctx, []string{alert.ItemID}, cities, qualities) {
		if !q.SellPriceMin.IsPositive() {
			continue
		}
		if !found || q.SellPriceMin.LessThan(best) {
			best, city, found = q.SellPriceMin, q.City, true
		}
	}
	return best, city, found
}

func (s *Service) discountBaseline(ctx context.Context, alert storage.PriceAlert, rule rules.Rule, current decimal.Decimal, now time.Time, logger zerolog.Logger) (decimal.Decimal, bool, error) {
	switch r := rule.(type) {
	case rules.ManualDiscount:
		return r.Expected, true, nil
	case rules.AIDiscount:
		base, ok := s.estimator.Estimate(ctx, s.aiQuery(alert, r.Params))
		if !ok {
			if s.opts.Fallback == FallbackSkip {
				logger.Info().Msg("insufficient history, alert skipped")
				return decimal.Decimal{}, false, nil
			}
			logger.Info().Str("baseline", current.String()).Msg("insufficient history, current price used as baseline")
			base = current
		}
		if err := s.store.SaveExpectedPrice(ctx, alert.ID, base, now); err != nil {
			return decimal.Decimal{}, false, fmt.Errorf("save expected price for alert %d: %w", alert.ID, err)
		}
		return base, true, nil
	default:
		return decimal.Decimal{}, false, fmt.Errorf("unexpected rule %T", rule)
	}
}

func (s *Service) aiQuery(alert storage.PriceAlert, params rules.AIParams) baseline.Query {
	cities := []string{s.opts.ReferenceCity}
	if alert.City != nil && *alert.City != "" {
		cities = []string{*alert.City}
	}
	return baseline.Query{
		ItemID:     alert.ItemID,
		Cities:     cities,
		Days:       params.Days,
		Resolution: params.Resolution,
		Statistic:  params.Statistic,
		MinPoints:  params.MinPoints,
	}
}

func (s *Service) fire(ctx context.Context, alert storage.PriceAlert, decision Decision, now time.Time) (Decision, error) {
	trigger := alerting.Trigger{
		Alert:         alert,
		CurrentPrice:  decision.Current,
		City:          decision.City,
		ExpectedPrice: decision.Baseline,
	}
	if _, err := s.dispatcher.Fire(ctx, trigger, now); err != nil {
		return decision, err
	}
	decision.Outcome = OutcomeFired
	return decision, nil
}

func percentOf(rule rules.Rule) decimal.Decimal {
	switch r := rule.(type) {
	case rules.ManualDiscount:
		return r.PercentBelow
	case rules.AIDiscount:
		return r.PercentBelow
	}
	return decimal.Zero
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
