package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EmailQueue 接收待发送的告警邮件，不得阻塞调用方。
type EmailQueue interface {
	Enqueue(email PriceAlertEmail) bool
}

// OutboxOptions 配置队列容量与并发。
type OutboxOptions struct {
	Size        int
	Workers     int
	SendTimeout time.Duration
}

// Outbox 是有界邮件队列，后台 worker 负责投递。
type Outbox struct {
	opts   OutboxOptions
	mailer Mailer
	logger zerolog.Logger

	mu     sync.Mutex
	queue  chan PriceAlertEmail
	closed bool
	wg     sync.WaitGroup
}

// NewOutbox 构造邮件队列，需调用 Start 启动 worker。
func NewOutbox(opts OutboxOptions, mailer Mailer, logger zerolog.Logger) *Outbox {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Outbox{
		opts:   opts,
		mailer: mailer,
		logger: logger.With().Str("component", "outbox").Logger(),
		queue:  make(chan PriceAlertEmail, opts.Size),
	}
}

// Start 启动 worker。ctx 取消后 worker 仍会清空队列。
func (o *Outbox) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go func(worker int) {
			defer o.wg.Done()
			for email := range o.queue {
				o.deliver(base, worker, email)
			}
		}(i)
	}
}

func (o *Outbox) deliver(ctx context.Context, worker int, email PriceAlertEmail) {
	sendCtx, cancel := context.WithTimeout(ctx, o.opts.SendTimeout)
	defer cancel()

	if err := o.mailer.Send(sendCtx, email.Render()); err != nil {
		o.logger.Error().Err(err).Int("worker", worker).Str("to", email.To).Str("item", email.Item).Msg("告警邮件发送失败")
		return
	}
	o.logger.Debug().Int("worker", worker).Str("to", email.To).Msg("告警邮件已投递")
}

// Enqueue 非阻塞入队，队列已满或已关闭时丢弃并返回 false。
func (o *Outbox) Enqueue(email PriceAlertEmail) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.logger.Warn().Str("to", email.To).Msg("队列已关闭，丢弃邮件")
		return false
	}
	select {
	case o.queue <- email:
		return true
	default:
		o.logger.Warn().Str("to", email.To).Int("capacity", cap(o.queue)).Msg("队列已满，丢弃邮件")
		return false
	}
}

// Len 返回排队中的邮件数。
func (o *Outbox) Len() int {
	return len(o.queue)
}

// Close 停止接收新邮件并等待队列清空。
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	o.wg.Wait()
}

var _ EmailQueue = (*Outbox)(nil)
