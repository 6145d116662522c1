package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookSink posts messages as JSON to an HTTP endpoint. Retries are left
// to the delivery queue so each attempt is counted once.
type WebhookSink struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookSink constructs a WebhookSink targeting url.
func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tap-attendance-notifier")

	return &WebhookSink{client: client, url: url, logger: logger}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Send implements Sink. Any non-2xx response is an error.
func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", msg.NotificationID).
		SetBody(msg).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		s.logger.Warn("webhook rejected notification",
			zap.String("notification_id", msg.NotificationID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}
	return nil
}
