package notifier

import (
	"context"
	"time"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// Alert 告警消息体
type Alert struct {
	Recipients []string               `json:"recipients,omitempty"`
	Severity   models.Severity        `json:"severity"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	SentAt     time.Time              `json:"sent_at"`
}

// Notifier 告警通知接口（异步、尽力而为）
// 通知失败只记录日志，永远不影响流水线的处理状态
type Notifier interface {
	Notify(ctx context.Context, recipients []string, severity models.Severity, message string, fields map[string]interface{}) error
}

// MultiNotifier 多路通知分发
// 逐个调用底层通知器，失败记录日志后继续（fire-and-log）
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMultiNotifier 创建多路通知分发器
func NewMultiNotifier(logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger,
	}
}

// Notify 向所有底层通知器分发告警
func (m *MultiNotifier) Notify(ctx context.Context, recipients []string, severity models.Severity, message string, fields map[string]interface{}) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, recipients, severity, message, fields); err != nil {
			m.logger.Error("Failed to dispatch alert",
				zap.String("severity", string(severity)),
				zap.String("message", message),
				zap.Error(err),
			)
		}
	}
	return nil
}
