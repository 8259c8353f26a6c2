// Package alerting 将插件启动失败与拦截器异常等事件推送到外部通知渠道。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelWebhook Channel = "webhook"
	ChannelLog     Channel = "log"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Plugin     string            `json:"plugin,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// FromError 根据统一错误生成告警事件。
func FromError(err error, plugin, kind, stage string) Event {
	code := xerrors.CodeOf(err)
	ev := Event{
		Code:       code,
		Message:    xerrors.AttributesOf(code).Message,
		Severity:   xerrors.SeverityOf(err),
		Plugin:     plugin,
		Kind:       kind,
		Stage:      stage,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	if e, ok := xerrors.From(err); ok {
		ev.Metadata = e.Metadata()
	}
	return ev
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 将告警写入审计日志。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Warn("告警事件",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("plugin", event.Plugin),
		slog.String("stage", event.Stage),
		slog.String("message", event.Message))
	return nil
}

// WebhookNotifier 以 JSON POST 的方式推送告警。
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送 webhook 请求，非 2xx 响应视为失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("plugin", event.Plugin))
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// Config 描述告警配置。
type Config struct {
	Enabled bool              `mapstructure:"enabled"`
	Webhook string            `mapstructure:"webhook"`
	Headers map[string]string `mapstructure:"headers"`
}

// FromConfig 根据配置构造派发器，未启用时返回 nil。
func FromConfig(cfg Config) Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []Notifier{LogNotifier{}}
	if cfg.Webhook != "" {
		notifiers = append(notifiers, &WebhookNotifier{URL: cfg.Webhook, Headers: cfg.Headers})
	}
	return NewFanout(notifiers...)
}

// Emit 仅在错误需要告警时通知，通知失败只记录日志。
func Emit(ctx context.Context, d Dispatcher, err error, plugin, kind, stage string) {
	if d == nil || err == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := d.Notify(ctx, FromError(err, plugin, kind, stage)); notifyErr != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", notifyErr),
			slog.String("plugin", plugin),
			slog.String("stage", stage))
	}
}
