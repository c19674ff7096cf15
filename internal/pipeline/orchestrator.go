package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-attendance/internal/events"
	"wisefido-attendance/internal/lease"
	"wisefido-attendance/internal/ledger"
	"wisefido-attendance/internal/models"
	"wisefido-attendance/internal/notifier"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/summary"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerSource 账本读取端（游标 + 拉取）
type LedgerSource interface {
	GetCursor(ctx context.Context, pipelineName string) (repository.Cursor, error)
	PollAfter(ctx context.Context, afterSequence int64, limit int) ([]models.LedgerEntry, error)
}

// EventWriter 考勤事件写入端（事务内推进游标）
type EventWriter interface {
	WriteBatch(ctx context.Context, uniqueEntries []models.LedgerEntry, batchSequences []int64, cursor repository.Cursor) ([]models.AttendanceEvent, error)
}

// SummaryComputer 每日汇总计算端
type SummaryComputer interface {
	Compute(ctx context.Context, employeeID string, date time.Time) (*models.DailyAttendanceSummary, *summary.DaySchedule, error)
}

// SummaryStore 汇总存储端
type SummaryStore interface {
	Upsert(ctx context.Context, summary *models.DailyAttendanceSummary) (*repository.UpsertResult, error)
}

// Unlocker 已持有的单飞租约
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker 单飞租约获取端
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error)
}

// SleepFunc 重试等待函数（测试中注入以断言精确调度）
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy 显式的重试退避策略
// 退避序列按次消耗：第 n 次重试前等待 Backoff[n-1]
type RetryPolicy struct {
	Backoff []time.Duration
}

// MaxAttempts 总尝试次数（首次 + 每个退避项一次重试）
func (p RetryPolicy) MaxAttempts() int {
	return len(p.Backoff) + 1
}

// Options 编排器配置（全部来自启动时注入的配置）
type Options struct {
	PipelineName      string
	BatchSize         int
	DedupWindow       time.Duration
	GapAlertThreshold int64
	LeaseTTL          time.Duration
	SummaryWorkers    int
	Retry             RetryPolicy
	Recipients        []string
	Location          *time.Location
}

// RunResult 单次流水线运行的结果
type RunResult struct {
	RunID            string
	Skipped          bool // 租约被持有，本次触发为 no-op
	DryRun           bool
	PolledCount      int
	DuplicateCount   int
	CreatedCount     int
	SummariesUpdated int
	SummaryFailures  int
	GapCount         int64
	HashChainValid   bool
	Attempts         int
	Failed           bool
}

// Orchestrator 流水线编排器
// 每次调用按固定顺序执行一轮：读取 → 哈希链校验/缺口检测 →
// 去重 → 事务写入 → 受影响员工/日的汇总计算与存储；
// 运行级瞬态失败按退避策略整轮重试，重试耗尽升级 critical 告警
type Orchestrator struct {
	opts Options

	locker      Locker
	ledgerSrc   LedgerSource
	validator   *ledger.ChainValidator
	gapDetector *ledger.GapDetector
	dedup       *ledger.Deduplicator
	writer      EventWriter
	computer    SummaryComputer
	rules       *summary.RuleEngine
	store       SummaryStore
	bus         *events.Bus
	alerts      notifier.Notifier
	sleep       SleepFunc
	logger      *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	opts Options,
	locker Locker,
	ledgerSrc LedgerSource,
	validator *ledger.ChainValidator,
	gapDetector *ledger.GapDetector,
	dedup *ledger.Deduplicator,
	writer EventWriter,
	computer SummaryComputer,
	rules *summary.RuleEngine,
	store SummaryStore,
	bus *events.Bus,
	alerts notifier.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	if opts.SummaryWorkers <= 0 {
		opts.SummaryWorkers = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Orchestrator{
		opts:        opts,
		locker:      locker,
		ledgerSrc:   ledgerSrc,
		validator:   validator,
		gapDetector: gapDetector,
		dedup:       dedup,
		writer:      writer,
		computer:    computer,
		rules:       rules,
		store:       store,
		bus:         bus,
		alerts:      alerts,
		sleep:       defaultSleep,
		logger:      logger,
	}
}

// SetSleepFunc 替换重试等待函数（测试用）
func (o *Orchestrator) SetSleepFunc(sleep SleepFunc) {
	o.sleep = sleep
}

// Run 执行一次流水线运行（含租约、重试与升级）
// 租约被持有时返回 Skipped=true 的结果，不算错误
func (o *Orchestrator) Run(ctx context.Context, dryRun bool) (*RunResult, error) {
	handle, err := o.locker.Acquire(ctx, o.opts.PipelineName, o.opts.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			o.logger.Info("Pipeline lease held by another run, skipping",
				zap.String("pipeline", o.opts.PipelineName),
			)
			return &RunResult{Skipped: true, DryRun: dryRun}, nil
		}
		return nil, fmt.Errorf("failed to acquire pipeline lease: %w", err)
	}
	defer func() {
		if err := handle.Release(context.Background()); err != nil {
			o.logger.Error("Failed to release pipeline lease", zap.Error(err))
		}
	}()

	runID := uuid.New().String()
	runLogger := o.logger.With(zap.String("run_id", runID))

	var lastErr error
	maxAttempts := o.opts.Retry.MaxAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := o.opts.Retry.Backoff[attempt-2]
			runLogger.Warn("Retrying pipeline run",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			if err := o.sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("pipeline run cancelled during backoff: %w", err)
			}
		}

		result, err := o.runOnce(ctx, runID, runLogger, dryRun)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}

		lastErr = err
		runLogger.Error("Pipeline run attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	// 重试耗尽：critical 告警 + 标记运行失败，交调度器通过退出码观察
	o.notify(ctx, models.SeverityCritical,
		"attendance pipeline failed after exhausting retries",
		map[string]interface{}{
			"run_id":   runID,
			"attempts": maxAttempts,
			"error":    lastErr.Error(),
		})

	return &RunResult{RunID: runID, DryRun: dryRun, Attempts: maxAttempts, Failed: true},
		fmt.Errorf("pipeline failed after %d attempts: %w", maxAttempts, lastErr)
}

// runOnce 单次尝试：账本读取到汇总存储的完整序列
// 返回的 error 视为运行级瞬态失败，由 Run 决定是否重试
func (o *Orchestrator) runOnce(ctx context.Context, runID string, logger *zap.Logger, dryRun bool) (*RunResult, error) {
	result := &RunResult{RunID: runID, DryRun: dryRun, HashChainValid: true}

	cursor, err := o.ledgerSrc.GetCursor(ctx, o.opts.PipelineName)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	entries, err := o.ledgerSrc.PollAfter(ctx, cursor.LastSequence, o.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to poll ledger: %w", err)
	}
	result.PolledCount = len(entries)

	if len(entries) == 0 {
		logger.Info("No new ledger entries")
		return result, nil
	}

	// 哈希链校验与缺口检测针对同一条目集（逻辑上并行的两项检查）
	report := o.validator.Verify(entries, cursor.LastHash)
	result.HashChainValid = report.IsValid
	if !report.IsValid {
		// 完整性失败立即升级，独立于重试结果；不受影响的条目照常处理
		o.notify(ctx, models.SeverityCritical,
			"ledger hash chain verification failed",
			map[string]interface{}{
				"run_id":           runID,
				"failed_sequences": report.FailedSequences,
				"resync_points":    report.ResyncPoints,
			})
	}

	gaps, gapCount := o.gapDetector.Gaps(entries, cursor.LastSequence)
	result.GapCount = gapCount
	if gapCount > o.opts.GapAlertThreshold {
		o.notify(ctx, models.SeverityWarning,
			"ledger sequence gap exceeds threshold",
			map[string]interface{}{
				"run_id":    runID,
				"gap_count": gapCount,
				"threshold": o.opts.GapAlertThreshold,
				"gaps":      gaps,
			})
	}

	deduped := o.dedup.Dedupe(entries, o.opts.DedupWindow)
	result.DuplicateCount = deduped.DuplicateCount

	// 哈希校验失败的条目不映射为事件，需人工排查
	failedSet := make(map[int64]bool, len(report.FailedSequences))
	for _, seq := range report.FailedSequences {
		failedSet[seq] = true
	}
	writable := make([]models.LedgerEntry, 0, len(deduped.Unique))
	for _, entry := range deduped.Unique {
		if !failedSet[entry.Sequence] {
			writable = append(writable, entry)
		}
	}

	if dryRun {
		logger.Info("Dry run: skipping writes",
			zap.Int("polled", result.PolledCount),
			zap.Int("duplicates", result.DuplicateCount),
			zap.Int("writable", len(writable)),
		)
		o.computeSummaries(ctx, runID, logger, affectedDaysFromEntries(writable, o.opts.Location), true, result)
		return result, nil
	}

	batchSeqs := make([]int64, 0, len(entries))
	for _, entry := range entries {
		batchSeqs = append(batchSeqs, entry.Sequence)
	}

	newCursor := repository.Cursor{
		PipelineName: o.opts.PipelineName,
		LastSequence: entries[len(entries)-1].Sequence,
		LastHash:     report.LastValidHash,
	}

	created, err := o.writer.WriteBatch(ctx, writable, batchSeqs, newCursor)
	if err != nil {
		return nil, fmt.Errorf("failed to write attendance events: %w", err)
	}
	result.CreatedCount = len(created)

	// 变更事件只在写入提交之后发布
	o.bus.PublishBatchProcessed(ctx, models.LedgerBatchProcessed{
		RunID:          runID,
		PolledCount:    result.PolledCount,
		DedupedCount:   result.DuplicateCount,
		CreatedCount:   result.CreatedCount,
		HashChainValid: report.IsValid,
		GapCount:       gapCount,
		ProcessedAt:    time.Now(),
	})

	o.computeSummaries(ctx, runID, logger, affectedDaysFromEvents(created, o.opts.Location), false, result)

	logger.Info("Pipeline run completed",
		zap.Int("polled", result.PolledCount),
		zap.Int("duplicates", result.DuplicateCount),
		zap.Int("created", result.CreatedCount),
		zap.Int("summaries_updated", result.SummariesUpdated),
		zap.Int64("gap_count", result.GapCount),
		zap.Bool("hash_chain_valid", result.HashChainValid),
	)

	return result, nil
}

// employeeDay 受影响的员工/日组合
type employeeDay struct {
	EmployeeID string
	Date       time.Time
}

// computeSummaries 为受影响的员工/日计算并存储汇总
// 员工之间无依赖，可并行；单个员工/日失败只记录并计数，不中断整轮
func (o *Orchestrator) computeSummaries(ctx context.Context, runID string, logger *zap.Logger, days []employeeDay, dryRun bool, result *RunResult) {
	if len(days) == 0 {
		return
	}

	jobs := make(chan employeeDay)
	var wg sync.WaitGroup
	var mu sync.Mutex

	workers := o.opts.SummaryWorkers
	if workers > len(days) {
		workers = len(days)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for day := range jobs {
				if err := o.processEmployeeDay(ctx, runID, day, dryRun); err != nil {
					logger.Error("Failed to process employee day",
						zap.String("employee_id", day.EmployeeID),
						zap.String("work_date", day.Date.Format("2006-01-02")),
						zap.Error(err),
					)
					mu.Lock()
					result.SummaryFailures++
					mu.Unlock()
					continue
				}
				mu.Lock()
				result.SummariesUpdated++
				mu.Unlock()
			}
		}()
	}

	for _, day := range days {
		jobs <- day
	}
	close(jobs)
	wg.Wait()
}

// processEmployeeDay 计算 → 分类 → 存储单个员工/日的汇总
func (o *Orchestrator) processEmployeeDay(ctx context.Context, runID string, day employeeDay, dryRun bool) error {
	daySummary, daySchedule, err := o.computer.Compute(ctx, day.EmployeeID, day.Date)
	if err != nil {
		return err
	}

	o.rules.Classify(daySummary, daySchedule)

	if dryRun {
		return nil
	}

	upserted, err := o.store.Upsert(ctx, daySummary)
	if err != nil {
		return err
	}

	o.bus.PublishSummaryUpdated(ctx, models.SummaryUpdated{
		RunID:          runID,
		Summary:        *upserted.Record,
		IsNew:          upserted.IsNew,
		PreviousValues: upserted.Previous,
	})

	return nil
}

// notify 发送告警（尽力而为，失败不影响处理状态）
func (o *Orchestrator) notify(ctx context.Context, severity models.Severity, message string, fields map[string]interface{}) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.Notify(ctx, o.opts.Recipients, severity, message, fields); err != nil {
		o.logger.Error("Failed to send alert",
			zap.String("severity", string(severity)),
			zap.Error(err),
		)
	}
}

// affectedDaysFromEvents 从新建事件推导受影响的员工/日集合
func affectedDaysFromEvents(created []models.AttendanceEvent, loc *time.Location) []employeeDay {
	seen := make(map[string]employeeDay)
	for _, event := range created {
		date := event.EventTime.In(loc)
		day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
		key := event.EmployeeID + "|" + day.Format("2006-01-02")
		seen[key] = employeeDay{EmployeeID: event.EmployeeID, Date: day}
	}
	return collectDays(seen)
}

// affectedDaysFromEntries 干跑模式下从账本条目推导员工/日集合
func affectedDaysFromEntries(entries []models.LedgerEntry, loc *time.Location) []employeeDay {
	seen := make(map[string]employeeDay)
	for _, entry := range entries {
		payload, err := entry.ParsePayload()
		if err != nil {
			continue
		}
		date := entry.Timestamp.In(loc)
		day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
		key := payload.EmployeeID + "|" + day.Format("2006-01-02")
		seen[key] = employeeDay{EmployeeID: payload.EmployeeID, Date: day}
	}
	return collectDays(seen)
}

func collectDays(seen map[string]employeeDay) []employeeDay {
	days := make([]employeeDay, 0, len(seen))
	for _, day := range seen {
		days = append(days, day)
	}
	return days
}
