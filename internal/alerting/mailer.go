package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Message 是一封纯文本邮件。
type Message struct {
	To      string
	Subject string
	Text    string
}

// Mailer 定义邮件投递接口。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// PriceAlertEmail 描述一次价格告警邮件的上下文。
type PriceAlertEmail struct {
	To            string
	Item          string
	CurrentPrice  decimal.Decimal
	City          string
	ExpectedPrice *decimal.Decimal
	PercentBelow  *decimal.Decimal
}

// Render 生成邮件主题与正文。
func (e PriceAlertEmail) Render() Message {
	subject := fmt.Sprintf("Price alert: %s at %s", e.Item, e.CurrentPrice.StringFixed(0))

	builder := strings.Builder{}
	builder.WriteString("Your Albion price alert fired.\n\n")
	builder.WriteString(fmt.Sprintf("Item: %s\n", e.Item))
	builder.WriteString(fmt.Sprintf("Current price: %s silver\n", e.CurrentPrice.StringFixed(0)))
	if e.City != "" {
		builder.WriteString(fmt.Sprintf("City: %s\n", e.City))
	}
	if e.ExpectedPrice != nil {
		builder.WriteString(fmt.Sprintf("Expected price: ~%s silver\n", e.ExpectedPrice.StringFixed(0)))
		if e.PercentBelow != nil {
			builder.WriteString(fmt.Sprintf("Discount rule: %s%% below expected\n", e.PercentBelow.StringFixed(0)))
		}
	}
	builder.WriteString("\nYou will not be alerted again for this item until the cooldown elapses.\n")

	return Message{To: e.To, Subject: subject, Text: builder.String()}
}

// LogMailer 在未配置邮件通道时仅记录日志。
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer 构造日志邮件器。
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mail_log").Logger()}
}

// Send 只输出日志，不做真实投递。
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("邮件通道未配置，仅记录")
	return nil
}

var _ Mailer = (*LogMailer)(nil)
