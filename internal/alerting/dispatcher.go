package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"albion-price-alerts/internal/storage"
)

// NotificationTitle 是站内通知的固定标题。
const NotificationTitle = "Price opportunity detected!"

// Trigger 封装一次告警触发。
type Trigger struct {
	Alert         storage.PriceAlert
	CurrentPrice  decimal.Decimal
	City          string
	ExpectedPrice *decimal.Decimal
}

// TriggerStore 是分发器依赖的持久化能力。
type TriggerStore interface {
	storage.TriggerRecorder
	storage.OwnerDirectory
}

// Dispatcher 先持久化站内通知与冷却时间，再尽力投递邮件。
type Dispatcher struct {
	store    TriggerStore
	queue    EmailQueue
	verifier *emailverifier.Verifier
	logger   zerolog.Logger
}

// NewDispatcher 构造分发器。queue 为 nil 时只写站内通知。
func NewDispatcher(store TriggerStore, queue EmailQueue, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		queue:    queue,
		verifier: emailverifier.NewVerifier(),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Fire 写入通知并推进 last_triggered_at；只有这一步的错误会返回。
func (d *Dispatcher) Fire(ctx context.Context, t Trigger, at time.Time) (storage.UserNotification, error) {
	note := storage.UserNotification{
		UserID: t.Alert.UserID,
		Title:  NotificationTitle,
		Body:   NotificationBody(t.Alert.Label(), t.CurrentPrice, t.ExpectedPrice, t.Alert.PercentBelow),
	}

	saved, err := d.store.RecordTrigger(ctx, t.Alert.ID, note, at)
	if err != nil {
		return storage.UserNotification{}, fmt.Errorf("record trigger for alert %d: %w", t.Alert.ID, err)
	}

	d.logger.Info().
		Int64("alert_id", t.Alert.ID).
		Int64("notification_id", saved.ID).
		Str("item", t.Alert.ItemID).
		Str("price", t.CurrentPrice.String()).
		Msg("告警已触发")

	d.enqueueEmail(ctx, t)
	return saved, nil
}

func (d *Dispatcher) enqueueEmail(ctx context.Context, t Trigger) {
	if d.queue == nil {
		return
	}
	logger := d.logger.With().Int64("alert_id", t.Alert.ID).Int64("user_id", t.Alert.UserID).Logger()

	to, err := d.store.OwnerEmail(ctx, t.Alert.UserID)
	if err != nil {
		logger.Warn().Err(err).Msg("无法获取用户邮箱，跳过邮件")
		return
	}
	to = strings.TrimSpace(to)
	if to == "" || !d.verifier.ParseAddress(to).Valid {
		logger.Warn().Str("to", to).Msg("邮箱格式无效，跳过邮件")
		return
	}

	city := t.City
	if t.Alert.City != nil && *t.Alert.City != "" {
		city = *t.Alert.City
	}

	email := PriceAlertEmail{
		To:            to,
		Item:          t.Alert.Label(),
		CurrentPrice:  t.CurrentPrice,
		City:          city,
		ExpectedPrice: t.ExpectedPrice,
	}
	if t.ExpectedPrice != nil {
		email.PercentBelow = t.Alert.PercentBelow
	}
	d.queue.Enqueue(email)
}

// NotificationBody 渲染站内通知正文，价格保留整数。
func NotificationBody(label string, current decimal.Decimal, expected, percentBelow *decimal.Decimal) string {
	if expected == nil {
		return fmt.Sprintf("%s reached %s.", label, current.StringFixed(0))
	}
	pct := decimal.Zero
	if percentBelow != nil {
		pct = *percentBelow
	}
	return fmt.Sprintf("%s reached %s (expected ~%s, -%s%%).",
		label, current.StringFixed(0), expected.StringFixed(0), pct.StringFixed(0))
}
