package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swap-notify/internal/watcher/config"
	"swap-notify/internal/watcher/monitor"
	"swap-notify/pkg/telegram"

	"go.uber.org/zap"
)

// Sink 外部消息通道，pkg/telegram.Client 满足该接口
type Sink interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, photoURL, caption string) error
}

// ErrPermanent 致命的投递配置错误（频道号无效、token 被吊销），
// 重试无意义，应整个进程退出
var ErrPermanent = errors.New("permanent dispatch failure")

// Dispatcher 负责把渲染好的消息送进频道，瞬时错误带退避重试。
// 重试耗尽只丢通知不丢数据，事件此时已经落盘。
type Dispatcher struct {
	sink        Sink
	channelID   string
	mediaURL    string
	maxAttempts int
	baseBackoff time.Duration
	tl          *zap.Logger
}

func New(cfg config.TelegramConfig, sink Sink, tl *zap.Logger) *Dispatcher {
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		sink:        sink,
		channelID:   cfg.ChannelID,
		mediaURL:    cfg.MediaURL,
		maxAttempts: maxAttempts,
		baseBackoff: time.Second,
		tl:          tl,
	}
}

// Send 投递一则通知。配置了宣传图时走 sendPhoto，消息体作为图片说明。
func (d *Dispatcher) Send(ctx context.Context, body string) error {
	var lastErr error

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			monitor.NotificationRetries.Inc()
			if err := d.sleep(ctx, d.backoff(attempt, lastErr)); err != nil {
				return err
			}
		}

		err := d.deliver(ctx, body)
		if err == nil {
			monitor.NotificationsSent.Inc()
			return nil
		}

		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}

		lastErr = err
		d.tl.Warn("❌ dispatch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	monitor.NotificationsDropped.Inc()
	d.tl.Error("❌ notification dropped after retry exhaustion",
		zap.Int("attempts", d.maxAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("dispatch exhausted after %d attempts: %w", d.maxAttempts, lastErr)
}

// Announce 发送运维性质的文字消息（启动/停止通知），不带宣传图
func (d *Dispatcher) Announce(ctx context.Context, text string) error {
	return d.sink.SendMessage(ctx, d.channelID, text)
}

func (d *Dispatcher) deliver(ctx context.Context, body string) error {
	if d.mediaURL != "" {
		return d.sink.SendPhoto(ctx, d.channelID, d.mediaURL, body)
	}
	return d.sink.SendMessage(ctx, d.channelID, body)
}

// backoff 指数退避，限流响应里带 retry_after 时优先听它的
func (d *Dispatcher) backoff(attempt int, lastErr error) time.Duration {
	var apiErr *telegram.APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}

	// max_retries 配得很大时位移会溢出，先封顶再套上限
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	delay := d.baseBackoff << shift
	if max := 30 * time.Second; delay > max {
		delay = max
	}
	return delay
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
