package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/fetcher"
	"albion-price-alerts/internal/rules"
)

// User owns alerts and notifications.
type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

// PriceAlert is one user's standing watch condition.
type PriceAlert struct {
	ID          int64
	UserID      int64
	ItemID      string
	DisplayName string
	City        *string
	Quality     *int

	TargetPrice   *decimal.Decimal
	ExpectedPrice *decimal.Decimal
	PercentBelow  *decimal.Decimal

	UseAIExpected bool
	AIDays        int
	AIResolution  string
	AIStat        string
	AIMinPoints   int

	LastExpectedPrice *decimal.Decimal
	LastExpectedAt    *time.Time

	CooldownMinutes int
	LastTriggeredAt *time.Time

	IsActive  bool
	CreatedAt time.Time
}

// Definition returns the rule-bearing fields of the alert.
func (a PriceAlert) Definition() rules.Definition {
	return rules.Definition{
		TargetPrice:   a.TargetPrice,
		ExpectedPrice: a.ExpectedPrice,
		PercentBelow:  a.PercentBelow,
		UseAIExpected: a.UseAIExpected,
		AI: rules.AIParams{
			Days:       a.AIDays,
			Resolution: fetcher.Resolution(a.AIResolution),
			Statistic:  baseline.Statistic(a.AIStat),
			MinPoints:  a.AIMinPoints,
		},
		CooldownMinutes: a.CooldownMinutes,
	}
}

// Label is the human name used in notifications.
func (a PriceAlert) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ItemID
}

// InCooldown reports whether the alert fired less than CooldownMinutes before now.
func (a PriceAlert) InCooldown(now time.Time) bool {
	if a.LastTriggeredAt == nil {
		return false
	}
	cooldown := time.Duration(a.CooldownMinutes) * time.Minute
	return now.Sub(*a.LastTriggeredAt) < cooldown
}

// UserNotification is an in-app message created when an alert fires.
type UserNotification struct {
	ID        int64
	UserID    int64
	Title     string
	Body      string
	IsRead    bool
	CreatedAt time.Time
}
