package events

import (
	"context"
	"sync"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// BatchHandler 账本批次事件处理函数
type BatchHandler func(ctx context.Context, event models.LedgerBatchProcessed) error

// SummaryHandler 汇总变更事件处理函数
type SummaryHandler func(ctx context.Context, event models.SummaryUpdated) error

// Bus 进程内变更事件总线
// 在写入事务提交后同步调用订阅者；单个订阅者失败只记录日志，
// 不影响其他订阅者，也不回滚已提交的写入
type Bus struct {
	logger *zap.Logger

	mu           sync.RWMutex
	batchSubs    []namedBatchSub
	summarySubs  []namedSummarySub
}

type namedBatchSub struct {
	name    string
	handler BatchHandler
}

type namedSummarySub struct {
	name    string
	handler SummaryHandler
}

// NewBus 创建事件总线
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// SubscribeBatchProcessed 注册账本批次事件订阅者
func (b *Bus) SubscribeBatchProcessed(name string, handler BatchHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batchSubs = append(b.batchSubs, namedBatchSub{name: name, handler: handler})
}

// SubscribeSummaryUpdated 注册汇总变更事件订阅者
func (b *Bus) SubscribeSummaryUpdated(name string, handler SummaryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summarySubs = append(b.summarySubs, namedSummarySub{name: name, handler: handler})
}

// PublishBatchProcessed 发布账本批次处理完成事件
func (b *Bus) PublishBatchProcessed(ctx context.Context, event models.LedgerBatchProcessed) {
	b.mu.RLock()
	subs := make([]namedBatchSub, len(b.batchSubs))
	copy(subs, b.batchSubs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("Batch event subscriber failed",
				zap.String("subscriber", sub.name),
				zap.String("run_id", event.RunID),
				zap.Error(err),
			)
		}
	}
}

// PublishSummaryUpdated 发布汇总变更事件
func (b *Bus) PublishSummaryUpdated(ctx context.Context, event models.SummaryUpdated) {
	b.mu.RLock()
	subs := make([]namedSummarySub, len(b.summarySubs))
	copy(subs, b.summarySubs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("Summary event subscriber failed",
				zap.String("subscriber", sub.name),
				zap.String("employee_id", event.Summary.EmployeeID),
				zap.String("work_date", event.Summary.WorkDate),
				zap.Error(err),
			)
		}
	}
}
