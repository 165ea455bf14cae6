package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/rules"
	"albion-price-alerts/internal/storage"
)

// BaselineRefresh reports the recomputed baseline of one AI alert.
type BaselineRefresh struct {
	AlertID  int64
	ItemID   string
	Baseline decimal.Decimal
	OK       bool
}

// RefreshBaselines recomputes and memoizes the AI baseline of every active
// alert without evaluating or firing it. Alerts lacking history keep their
// previous memo.
func (s *Service) RefreshBaselines(ctx context.Context) ([]BaselineRefresh, error) {
	alerts, err := s.store.ListActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	out := make([]BaselineRefresh, 0, len(alerts))
	for _, alert := range alerts {
		ai, ok := aiRule(alert)
		if !ok {
			continue
		}

		value, found := s.estimator.Estimate(ctx, s.aiQuery(alert, ai.Params))
		entry := BaselineRefresh{AlertID: alert.ID, ItemID: alert.ItemID, Baseline: value, OK: found}
		if found {
			err := s.store.SaveExpectedPrice(ctx, alert.ID, value, s.now().UTC())
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return out, fmt.Errorf("save expected price for alert %d: %w", alert.ID, err)
			}
		}
		s.logger.Info().
			Int64("alert_id", alert.ID).
			Str("item", alert.ItemID).
			Bool("ok", found).
			Str("baseline", value.String()).
			Msg("baseline refreshed")
		out = append(out, entry)
	}
	return out, nil
}

func aiRule(alert storage.PriceAlert) (rules.AIDiscount, bool) {
	rule, err := rules.Resolve(alert.Definition())
	if err != nil {
		return rules.AIDiscount{}, false
	}
	if th, ok := rule.(rules.Threshold); ok {
		rule = th.Fallback
	}
	ai, ok := rule.(rules.AIDiscount)
	return ai, ok
}
