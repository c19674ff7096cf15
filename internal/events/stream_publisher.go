package events

import (
	"context"

	"wisefido-attendance/internal/common/redisx"
	"wisefido-attendance/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 把变更事件发布到 Redis Streams
// 下游订阅方（payroll、notification、appraisal、audit）用消费者组
// 独立消费，投递语义为至少一次、且仅在写入提交之后
type StreamPublisher struct {
	client        *redis.Client
	batchStream   string
	summaryStream string
	logger        *zap.Logger
}

// NewStreamPublisher 创建流发布器
func NewStreamPublisher(client *redis.Client, batchStream, summaryStream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client:        client,
		batchStream:   batchStream,
		summaryStream: summaryStream,
		logger:        logger,
	}
}

// Register 把发布器挂到事件总线上
func (p *StreamPublisher) Register(bus *Bus) {
	bus.SubscribeBatchProcessed("redis-stream", p.publishBatch)
	bus.SubscribeSummaryUpdated("redis-stream", p.publishSummary)
}

func (p *StreamPublisher) publishBatch(ctx context.Context, event models.LedgerBatchProcessed) error {
	id, err := redisx.PublishJSONToStream(ctx, p.client, p.batchStream, event)
	if err != nil {
		return err
	}

	p.logger.Debug("Published batch event",
		zap.String("stream", p.batchStream),
		zap.String("message_id", id),
		zap.String("run_id", event.RunID),
	)
	return nil
}

func (p *StreamPublisher) publishSummary(ctx context.Context, event models.SummaryUpdated) error {
	id, err := redisx.PublishJSONToStream(ctx, p.client, p.summaryStream, event)
	if err != nil {
		return err
	}

	p.logger.Debug("Published summary event",
		zap.String("stream", p.summaryStream),
		zap.String("message_id", id),
		zap.String("employee_id", event.Summary.EmployeeID),
		zap.String("work_date", event.Summary.WorkDate),
	)
	return nil
}
