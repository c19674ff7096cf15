package notifier

import (
	"context"
	"fmt"
	"time"

	"wisefido-attendance/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 通过 HTTP webhook 投递告警
type WebhookNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebhookNotifier 创建webhook告警通知器
func NewWebhookNotifier(webhookURL string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(webhookURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// Notify 投递告警到webhook
func (n *WebhookNotifier) Notify(ctx context.Context, recipients []string, severity models.Severity, message string, fields map[string]interface{}) error {
	alert := Alert{
		Recipients: recipients,
		Severity:   severity,
		Message:    message,
		Context:    fields,
		SentAt:     time.Now(),
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(alert).
		Post("")
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Alert delivered to webhook",
		zap.String("severity", string(severity)),
		zap.Int("status_code", resp.StatusCode()),
	)

	return nil
}
