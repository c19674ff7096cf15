package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-attendance/internal/common/mqtt"
	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// MQTTNotifier 通过 MQTT 发布告警
// 主题按级别区分：<prefix>/<severity>，如 attendance/alerts/critical
type MQTTNotifier struct {
	client      *mqtt.Client
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTNotifier 创建MQTT告警通知器
func NewMQTTNotifier(client *mqtt.Client, topicPrefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client:      client,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// Notify 发布告警消息
func (n *MQTTNotifier) Notify(ctx context.Context, recipients []string, severity models.Severity, message string, fields map[string]interface{}) error {
	alert := Alert{
		Recipients: recipients,
		Severity:   severity,
		Message:    message,
		Context:    fields,
		SentAt:     time.Now(),
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", n.topicPrefix, severity)
	if err := n.client.Publish(topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	n.logger.Debug("Alert published to MQTT",
		zap.String("topic", topic),
		zap.String("severity", string(severity)),
	)

	return nil
}
