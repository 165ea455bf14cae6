package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-mail/mail"
	"github.com/rs/zerolog"
)

// SMTPConfig 描述 STARTTLS SMTP 中继。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer 通过 SMTP 发送邮件。
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
	logger zerolog.Logger
}

// NewSMTPMailer 构造 SMTP 邮件器。
func NewSMTPMailer(cfg SMTPConfig, logger zerolog.Logger) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = cfg.Timeout
	dialer.StartTLSPolicy = mail.MandatoryStartTLS

	return &SMTPMailer{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With().Str("component", "mail_smtp").Logger(),
	}
}

// Send 拨号并投递。go-mail 不接受 ctx，已取消的 ctx 直接返回。
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(m.buildMessage(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Info().Str("to", msg.To).Msg("告警邮件已发送 (SMTP)")
	return nil
}

func (m *SMTPMailer) buildMessage(msg Message) *mail.Message {
	out := mail.NewMessage()
	out.SetHeader("From", m.cfg.From)
	out.SetHeader("To", msg.To)
	out.SetHeader("Subject", msg.Subject)
	out.SetBody("text/plain", msg.Text)
	return out
}

var _ Mailer = (*SMTPMailer)(nil)
