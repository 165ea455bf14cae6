package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"albion-price-alerts/internal/rules"
	"albion-price-alerts/internal/storage"
)

var verifier = emailverifier.NewVerifier()

// AddUser registers an owner, or returns the existing one.
func (a *App) AddUser(ctx context.Context, email string) (storage.User, error) {
	if err := validateEmail(email); err != nil {
		return storage.User{}, err
	}

	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return storage.User{}, err
	}
	defer closeStore()

	user, err := store.UpsertUser(ctx, strings.TrimSpace(email))
	if err != nil {
		return storage.User{}, err
	}
	fmt.Fprintf(a.Out, "user %d %s\n", user.ID, user.Email)
	return user, nil
}

// AddAlert validates the definition and persists a new alert for its owner.
func (a *App) AddAlert(ctx context.Context, opts AlertOptions) (storage.PriceAlert, error) {
	if err := validateEmail(opts.Email); err != nil {
		return storage.PriceAlert{}, err
	}
	alert, err := buildAlert(opts)
	if err != nil {
		return storage.PriceAlert{}, err
	}

	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return storage.PriceAlert{}, err
	}
	defer closeStore()

	user, err := store.UpsertUser(ctx, strings.TrimSpace(opts.Email))
	if err != nil {
		return storage.PriceAlert{}, err
	}
	alert.UserID = user.ID

	created, err := store.CreateAlert(ctx, alert)
	if err != nil {
		return storage.PriceAlert{}, err
	}

	rule, _ := rules.Resolve(created.Definition())
	a.Logger.Info().
		Int64("alert_id", created.ID).
		Str("item", created.ItemID).
		Str("rule", string(rule.Kind())).
		Msg("alert created")
	fmt.Fprintf(a.Out, "alert %d created (%s)\n", created.ID, rule.Kind())
	return created, nil
}

// DeleteAlert removes an alert.
func (a *App) DeleteAlert(ctx context.Context, id int64) error {
	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteAlert(ctx, id); err != nil {
		return fmt.Errorf("delete alert %d: %w", id, err)
	}
	fmt.Fprintf(a.Out, "alert %d deleted\n", id)
	return nil
}

// SetAlertActive enables or disables an alert.
func (a *App) SetAlertActive(ctx context.Context, id int64, active bool) error {
	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.SetAlertActive(ctx, id, active); err != nil {
		return fmt.Errorf("update alert %d: %w", id, err)
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Fprintf(a.Out, "alert %d %s\n", id, state)
	return nil
}

// MarkNotificationRead flags one notification as read.
func (a *App) MarkNotificationRead(ctx context.Context, id int64) error {
	store, closeStore, err := a.adminStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %d: %w", id, err)
	}
	fmt.Fprintf(a.Out, "notification %d read\n", id)
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email is required")
	}
	if !verifier.ParseAddress(email).Valid {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}

// buildAlert converts command line options into a validated alert.
func buildAlert(opts AlertOptions) (storage.PriceAlert, error) {
	var errs error
	parse := func(name, raw string) *decimal.Decimal {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			return nil
		}
		return &d
	}

	alert := storage.PriceAlert{
		ItemID:          strings.ToUpper(strings.TrimSpace(opts.ItemID)),
		DisplayName:     strings.TrimSpace(opts.DisplayName),
		TargetPrice:     parse("target price", opts.TargetPrice),
		ExpectedPrice:   parse("expected price", opts.ExpectedPrice),
		PercentBelow:    parse("percent below", opts.PercentBelow),
		UseAIExpected:   opts.UseAIExpected,
		AIDays:          opts.AIDays,
		AIResolution:    opts.AIResolution,
		AIStat:          opts.AIStat,
		AIMinPoints:     opts.AIMinPoints,
		CooldownMinutes: opts.CooldownMinutes,
		IsActive:        !opts.Inactive,
	}
	if alert.ItemID == "" {
		errs = multierr.Append(errs, errors.New("item id is required"))
	}
	if city := strings.TrimSpace(opts.City); city != "" {
		alert.City = &city
	}
	if opts.Quality > 0 {
		q := opts.Quality
		alert.Quality = &q
	}
	if errs != nil {
		return storage.PriceAlert{}, errs
	}

	if err := rules.Validate(alert.Definition()); err != nil {
		return storage.PriceAlert{}, err
	}
	params := alert.Definition().AI.WithDefaults()
	alert.AIDays = params.Days
	alert.AIResolution = string(params.Resolution)
	alert.AIStat = string(params.Statistic)
	alert.AIMinPoints = params.MinPoints
	return alert, nil
}
