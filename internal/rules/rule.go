// Package rules resolves a stored alert definition into exactly one rule variant.
package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/fetcher"
)

// ErrNoRule is returned when a definition matches none of the rule variants.
var ErrNoRule = errors.New("rules: definition matches no rule")

const (
	DefaultAIDays      = 7
	DefaultAIMinPoints = 10
	MaxAIDays          = 30
)

// Kind names a rule variant.
type Kind string

const (
	KindThreshold      Kind = "threshold"
	KindManualDiscount Kind = "manual_discount"
	KindAIDiscount     Kind = "ai_discount"
)

// AIParams parameterise the historical baseline lookup.
type AIParams struct {
	Days       int
	Resolution fetcher.Resolution
	Statistic  baseline.Statistic
	MinPoints  int
}

// WithDefaults fills unset fields.
func (p AIParams) WithDefaults() AIParams {
	if p.Days <= 0 {
		p.Days = DefaultAIDays
	}
	if p.Resolution == "" {
		p.Resolution = fetcher.Resolution6h
	}
	if p.Statistic == "" {
		p.Statistic = baseline.StatMedian
	}
	if p.MinPoints <= 0 {
		p.MinPoints = DefaultAIMinPoints
	}
	return p
}

// Definition is the nullable-field form an alert is stored in.
type Definition struct {
	TargetPrice     *decimal.Decimal
	ExpectedPrice   *decimal.Decimal
	PercentBelow    *decimal.Decimal
	UseAIExpected   bool
	AI              AIParams
	CooldownMinutes int
}

// Rule is one of Threshold, ManualDiscount or AIDiscount.
type Rule interface {
	Kind() Kind
	sealed()
}

// Threshold fires when the current price is at or below Target.
// Fallback holds the percentage rule of the same alert, if any, and is
// evaluated only when the threshold does not fire.
type Threshold struct {
	Target   decimal.Decimal
	Fallback Rule
}

// ManualDiscount compares against an operator supplied expected price.
type ManualDiscount struct {
	Expected     decimal.Decimal
	PercentBelow decimal.Decimal
}

// AIDiscount compares against a baseline estimated from history.
type AIDiscount struct {
	PercentBelow decimal.Decimal
	Params       AIParams
}

func (Threshold) Kind() Kind      { return KindThreshold }
func (ManualDiscount) Kind() Kind { return KindManualDiscount }
func (AIDiscount) Kind() Kind     { return KindAIDiscount }

func (Threshold) sealed()      {}
func (ManualDiscount) sealed() {}
func (AIDiscount) sealed()     {}

// Resolve picks the variant in priority order: target, manual expected
// price with percent, AI baseline with percent.
func Resolve(def Definition) (Rule, error) {
	discount := resolveDiscount(def)
	if def.TargetPrice != nil {
		return Threshold{Target: *def.TargetPrice, Fallback: discount}, nil
	}
	if discount == nil {
		return nil, ErrNoRule
	}
	return discount, nil
}

func resolveDiscount(def Definition) Rule {
	if def.PercentBelow == nil {
		return nil
	}
	if def.ExpectedPrice != nil {
		return ManualDiscount{Expected: *def.ExpectedPrice, PercentBelow: *def.PercentBelow}
	}
	if def.UseAIExpected {
		return AIDiscount{PercentBelow: *def.PercentBelow, Params: def.AI.WithDefaults()}
	}
	return nil
}

// DiscountThreshold returns baseline * (1 - pct/100).
func DiscountThreshold(base, pct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(pct.Div(decimal.NewFromInt(100)))
	return base.Mul(factor)
}

// Validate checks a definition before it is stored. All problems are reported.
func Validate(def Definition) error {
	var errs error
	positive := func(name string, v *decimal.Decimal) {
		if v != nil && !v.IsPositive() {
			errs = multierr.Append(errs, fmt.Errorf("%s must be greater than zero", name))
		}
	}
	positive("target_price", def.TargetPrice)
	positive("expected_price", def.ExpectedPrice)

	if def.PercentBelow != nil {
		pct := *def.PercentBelow
		if !pct.IsPositive() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			errs = multierr.Append(errs, errors.New("percent_below must be between 0 and 100 exclusive"))
		}
	}

	if def.UseAIExpected {
		errs = multierr.Append(errs, ValidateAI(def.AI))
	}

	if def.CooldownMinutes < 0 {
		errs = multierr.Append(errs, errors.New("cooldown_minutes must not be negative"))
	}

	if _, err := Resolve(def); err != nil {
		errs = multierr.Append(errs, errors.New("alert needs target_price, or percent_below with expected_price or use_ai_expected"))
	}
	return errs
}

// ValidateAI checks the baseline parameters. Zero values mean "use the default".
func ValidateAI(ai AIParams) error {
	var errs error
	if ai.Days != 0 && (ai.Days < 1 || ai.Days > MaxAIDays) {
		errs = multierr.Append(errs, fmt.Errorf("ai_days must be between 1 and %d", MaxAIDays))
	}
	if ai.Resolution != "" && !ai.Resolution.Valid() {
		errs = multierr.Append(errs, fmt.Errorf("ai_resolution %q is not one of 1h, 6h, 24h", ai.Resolution))
	}
	switch ai.Statistic {
	case "", baseline.StatMedian, baseline.StatMean:
	default:
		errs = multierr.Append(errs, fmt.Errorf("ai_stat %q is not median or mean", ai.Statistic))
	}
	if ai.MinPoints < 0 {
		errs = multierr.Append(errs, errors.New("ai_min_points must be at least 1"))
	}
	return errs
}
