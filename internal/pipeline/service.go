package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-attendance/internal/common/database"
	"wisefido-attendance/internal/common/mqtt"
	"wisefido-attendance/internal/common/redisx"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/events"
	"wisefido-attendance/internal/lease"
	"wisefido-attendance/internal/ledger"
	"wisefido-attendance/internal/notifier"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/summary"

	"go.uber.org/zap"
)

// Service 考勤流水线服务
// 负责组装基础设施（数据库、Redis、MQTT）、仓储、事件总线、
// 告警通道与编排器，并管理它们的生命周期
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redisx.Client
	mqttClient  *mqtt.Client

	orchestrator *Orchestrator
}

// redisLocker 将 Redis 租约适配为编排器的 Locker 接口
type redisLocker struct {
	lease *lease.Lease
}

func (r redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error) {
	handle, err := r.lease.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// NewService 创建并组装流水线服务
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisx.NewRedisClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	svc := &Service{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
	}

	hasher, err := ledger.NewHasher(cfg.Pipeline.HashAlgorithm)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("invalid hash algorithm: %w", err)
	}

	ledgerRepo := repository.NewLedgerRepository(db, logger)
	eventRepo := repository.NewAttendanceEventRepository(db, logger)
	scheduleRepo := repository.NewScheduleRepository(db, logger)
	summaryRepo := repository.NewSummaryRepository(db, logger)

	bus := events.NewBus(logger)
	publisher := events.NewStreamPublisher(
		redisClient,
		cfg.Pipeline.BatchStream,
		cfg.Pipeline.SummaryStream,
		logger,
	)
	publisher.Register(bus)

	alerts := svc.buildNotifier()

	computer := summary.NewComputer(
		eventRepo,
		scheduleRepo,
		time.Local,
		cfg.Pipeline.SystemUserID,
		logger,
	)
	rules := summary.NewRuleEngine(
		time.Duration(cfg.Pipeline.GracePeriodMinutes)*time.Minute,
		time.Duration(cfg.Pipeline.OvertimeThresholdMinutes)*time.Minute,
		logger,
	)

	svc.orchestrator = NewOrchestrator(
		Options{
			PipelineName:      cfg.Pipeline.Name,
			BatchSize:         cfg.Pipeline.BatchSize,
			DedupWindow:       time.Duration(cfg.Pipeline.DedupWindowSeconds) * time.Second,
			GapAlertThreshold: int64(cfg.Pipeline.GapAlertThreshold),
			LeaseTTL:          time.Duration(cfg.Pipeline.LeaseTTLMinutes) * time.Minute,
			SummaryWorkers:    cfg.Pipeline.SummaryWorkers,
			Retry:             RetryPolicy{Backoff: cfg.Pipeline.RetryBackoff},
			Recipients:        cfg.Notifier.Recipients,
			Location:          time.Local,
		},
		redisLocker{lease: lease.NewLease(redisClient, logger)},
		ledgerRepo,
		ledger.NewChainValidator(hasher, logger),
		ledger.NewGapDetector(logger),
		ledger.NewDeduplicator(logger),
		eventRepo,
		computer,
		rules,
		summaryRepo,
		bus,
		alerts,
		logger,
	)

	return svc, nil
}

// buildNotifier 按配置组装告警通道（MQTT、Webhook，可同时启用）
func (s *Service) buildNotifier() notifier.Notifier {
	var channels []notifier.Notifier

	if s.cfg.Notifier.MQTTEnabled {
		mqttClient, err := mqtt.NewClient(&s.cfg.MQTT)
		if err != nil {
			// MQTT 不可用时降级为其余通道，告警缺口记录在日志
			s.logger.Error("Failed to connect to MQTT broker, alerts degraded", zap.Error(err))
		} else {
			s.mqttClient = mqttClient
			channels = append(channels, notifier.NewMQTTNotifier(mqttClient, s.cfg.Notifier.TopicPrefix, s.cfg.MQTT.QoS, s.logger))
		}
	}

	if s.cfg.Notifier.WebhookURL != "" {
		channels = append(channels, notifier.NewWebhookNotifier(s.cfg.Notifier.WebhookURL, s.logger))
	}

	if len(channels) == 0 {
		s.logger.Warn("No alert channels configured, alerts will only appear in logs")
	}

	return notifier.NewMultiNotifier(s.logger, channels...)
}

// Run 执行一次流水线运行
func (s *Service) Run(ctx context.Context, dryRun bool) (*RunResult, error) {
	return s.orchestrator.Run(ctx, dryRun)
}

// Close 关闭所有基础设施连接
func (s *Service) Close() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := redisx.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}
