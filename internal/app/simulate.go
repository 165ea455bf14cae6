package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/alerting"
	"albion-price-alerts/internal/baseline"
	"albion-price-alerts/internal/fetcher"
	"albion-price-alerts/internal/service"
	"albion-price-alerts/internal/storage"
)

// SimulateAlert 用给定的当前价格和历史价格跑一次完整的检查流程。
// 告警只存在于内存中；邮件默认只写日志，SendEmail 时走真实通道。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (service.Decision, error) {
	alert, err := buildAlert(opts.Alert)
	if err != nil {
		return service.Decision{}, err
	}
	current, err := decimal.NewFromString(strings.TrimSpace(opts.CurrentPrice))
	if err != nil {
		return service.Decision{}, fmt.Errorf("current price: %w", err)
	}
	history := make([]decimal.Decimal, 0, len(opts.HistoryPrices))
	for _, raw := range opts.HistoryPrices {
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return service.Decision{}, fmt.Errorf("history price %q: %w", raw, err)
		}
		history = append(history, v)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	store := storage.NewMemoryStore()
	user, err := store.UpsertUser(ctx, strings.TrimSpace(opts.Alert.Email))
	if err != nil {
		return service.Decision{}, err
	}
	alert.UserID = user.ID
	alert.IsActive = true
	if _, err := store.CreateAlert(ctx, alert); err != nil {
		return service.Decision{}, err
	}

	city := opts.City
	if city == "" && alert.City != nil {
		city = *alert.City
	}
	if city == "" {
		city = a.Config.Alerting.ReferenceCity
	}

	mailer := alerting.Mailer(alerting.NewLogMailer(a.Logger))
	if opts.SendEmail {
		mailer = a.newMailer()
	}
	outbox := a.newOutbox(mailer)
	outbox.Start(ctx)
	defer outbox.Close()

	prices := staticPrices{quote: fetcher.PricePoint{ItemID: alert.ItemID, City: city, SellPriceMin: current, ObservedAt: now}}
	hist := staticHistory{values: history, city: city, now: now}
	svc := service.New(service.Options{
		ReferenceCity: a.Config.Alerting.ReferenceCity,
		Fallback:      service.FallbackPolicy(a.Config.Alerting.BaselineFallback),
	}, prices, baseline.NewEstimator(hist, a.Logger), store, alerting.NewDispatcher(store, outbox, a.Logger), nil, a.Logger)
	svc.SetClock(func() time.Time { return now })

	res, err := svc.RunCheck(ctx)
	if err != nil {
		return service.Decision{}, err
	}
	if len(res.Decisions) != 1 {
		return service.Decision{}, errors.New("模拟告警未被评估")
	}

	d := res.Decisions[0]
	fmt.Fprintf(a.Out, "outcome=%s rule=%s current=%s", d.Outcome, d.Rule, formatDecimal(d.Current, 0))
	if d.Baseline != nil {
		fmt.Fprintf(a.Out, " baseline=%s", formatDecimal(*d.Baseline, 2))
	}
	if d.Threshold != nil {
		fmt.Fprintf(a.Out, " threshold=%s", formatDecimal(*d.Threshold, 2))
	}
	fmt.Fprintln(a.Out)

	if d.Outcome == service.OutcomeFired {
		notes, err := store.ListNotifications(ctx, user.ID, false, 1)
		if err == nil && len(notes) == 1 {
			fmt.Fprintf(a.Out, "%s\n%s\n", notes[0].Title, notes[0].Body)
		}
	}
	return d, nil
}

type staticPrices struct {
	quote fetcher.PricePoint
}

func (s staticPrices) FetchCurrent(ctx context.Context, items, cities []string, qualities []int) []fetcher.PricePoint {
	return []fetcher.PricePoint{s.quote}
}

// staticHistory spaces the given values one resolution bucket apart, ending at now.
type staticHistory struct {
	values []decimal.Decimal
	city   string
	now    time.Time
}

func (s staticHistory) FetchHistory(ctx context.Context, item string, cities []string, days int, res fetcher.Resolution) []fetcher.HistoryPoint {
	step := time.Duration(res.TimeScale()) * time.Hour
	start := s.now.Add(-step * time.Duration(len(s.values)))
	points := make([]fetcher.HistoryPoint, 0, len(s.values))
	for i, v := range s.values {
		points = append(points, fetcher.HistoryPoint{
			Timestamp: start.Add(step * time.Duration(i)),
			City:      s.city,
			AvgPrice:  v,
			ItemCount: 1,
			Fields:    map[string]any{"avg_price": v.InexactFloat64()},
		})
	}
	return points
}

var _ fetcher.PriceFetcher = staticPrices{}
var _ fetcher.HistoryFetcher = staticHistory{}
