package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wisefido-attendance/internal/events"
	"wisefido-attendance/internal/lease"
	"wisefido-attendance/internal/ledger"
	"wisefido-attendance/internal/models"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/summary"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUnlocker struct {
	released bool
}

func (f *fakeUnlocker) Release(ctx context.Context) error {
	f.released = true
	return nil
}

type fakeLocker struct {
	held     bool
	acquired int
	unlocker *fakeUnlocker
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error) {
	if f.held {
		return nil, lease.ErrLeaseHeld
	}
	f.acquired++
	f.unlocker = &fakeUnlocker{}
	return f.unlocker, nil
}

type fakeLedgerSource struct {
	cursor      repository.Cursor
	entries     []models.LedgerEntry
	failPolls   int
	pollCount   int
	lastAfter   int64
	lastLimit   int
	cursorCalls int
}

func (f *fakeLedgerSource) GetCursor(ctx context.Context, pipelineName string) (repository.Cursor, error) {
	f.cursorCalls++
	return f.cursor, nil
}

func (f *fakeLedgerSource) PollAfter(ctx context.Context, afterSequence int64, limit int) ([]models.LedgerEntry, error) {
	f.pollCount++
	f.lastAfter = afterSequence
	f.lastLimit = limit
	if f.failPolls > 0 {
		f.failPolls--
		return nil, errors.New("connection reset by peer")
	}
	return f.entries, nil
}

type writeCall struct {
	unique    []models.LedgerEntry
	batchSeqs []int64
	cursor    repository.Cursor
}

type fakeEventWriter struct {
	calls []writeCall
	err   error
}

func (f *fakeEventWriter) WriteBatch(ctx context.Context, uniqueEntries []models.LedgerEntry, batchSequences []int64, cursor repository.Cursor) ([]models.AttendanceEvent, error) {
	f.calls = append(f.calls, writeCall{unique: uniqueEntries, batchSeqs: batchSequences, cursor: cursor})
	if f.err != nil {
		return nil, f.err
	}
	created := make([]models.AttendanceEvent, 0, len(uniqueEntries))
	for _, entry := range uniqueEntries {
		payload, err := entry.ParsePayload()
		if err != nil {
			continue
		}
		created = append(created, models.AttendanceEvent{
			EventID:        uuid.New().String(),
			EmployeeID:     payload.EmployeeID,
			EventType:      models.EventType(payload.Event),
			EventTime:      entry.Timestamp,
			DeviceID:       entry.DeviceID,
			CardUID:        entry.CardUID,
			SourceSequence: entry.Sequence,
		})
	}
	return created, nil
}

type fakeSummaryComputer struct {
	mu    sync.Mutex
	calls []employeeDay
	err   error
}

func (f *fakeSummaryComputer) Compute(ctx context.Context, employeeID string, date time.Time) (*models.DailyAttendanceSummary, *summary.DaySchedule, error) {
	f.mu.Lock()
	f.calls = append(f.calls, employeeDay{EmployeeID: employeeID, Date: date})
	f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	return &models.DailyAttendanceSummary{
		EmployeeID: employeeID,
		WorkDate:   date.Format("2006-01-02"),
	}, nil, nil
}

type fakeSummaryStore struct {
	mu      sync.Mutex
	upserts []*models.DailyAttendanceSummary
	err     error
}

func (f *fakeSummaryStore) Upsert(ctx context.Context, s *models.DailyAttendanceSummary) (*repository.UpsertResult, error) {
	f.mu.Lock()
	f.upserts = append(f.upserts, s)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &repository.UpsertResult{Record: s, IsNew: true}, nil
}

type sentAlert struct {
	severity models.Severity
	message  string
	fields   map[string]interface{}
}

type fakeAlertSink struct {
	mu     sync.Mutex
	alerts []sentAlert
}

func (f *fakeAlertSink) Notify(ctx context.Context, recipients []string, severity models.Severity, message string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, sentAlert{severity: severity, message: message, fields: fields})
	return nil
}

func (f *fakeAlertSink) bySeverity(severity models.Severity) []sentAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []sentAlert
	for _, alert := range f.alerts {
		if alert.severity == severity {
			matched = append(matched, alert)
		}
	}
	return matched
}

// chainEntries 构造从 startSeq 开始、哈希链有效的账本条目
func chainEntries(t *testing.T, startSeq int64, prevHash string, employees []string, base time.Time) []models.LedgerEntry {
	t.Helper()
	hasher, err := ledger.NewHasher("sha256")
	require.NoError(t, err)

	entries := make([]models.LedgerEntry, 0, len(employees))
	prev := prevHash
	for i, employeeID := range employees {
		payload := []byte(fmt.Sprintf(`{"event":"time_in","employee_id":"%s"}`, employeeID))
		entry := models.LedgerEntry{
			Sequence:  startSeq + int64(i),
			DeviceID:  "door-01",
			CardUID:   "card-" + employeeID,
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Payload:   payload,
			PrevHash:  prev,
			Hash:      hasher.Sum(prev, payload),
		}
		entries = append(entries, entry)
		prev = entry.Hash
	}
	return entries
}

type testEnv struct {
	orch   *Orchestrator
	locker *fakeLocker
	source *fakeLedgerSource
	writer *fakeEventWriter
	comp   *fakeSummaryComputer
	store  *fakeSummaryStore
	alerts *fakeAlertSink
	bus    *events.Bus
	sleeps []time.Duration
}

func newTestEnv(t *testing.T, backoff []time.Duration) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	hasher, err := ledger.NewHasher("sha256")
	require.NoError(t, err)

	env := &testEnv{
		locker: &fakeLocker{},
		source: &fakeLedgerSource{},
		writer: &fakeEventWriter{},
		comp:   &fakeSummaryComputer{},
		store:  &fakeSummaryStore{},
		alerts: &fakeAlertSink{},
		bus:    events.NewBus(logger),
	}

	env.orch = NewOrchestrator(
		Options{
			PipelineName:      "attendance-pipeline",
			BatchSize:         500,
			DedupWindow:       90 * time.Second,
			GapAlertThreshold: 10,
			LeaseTTL:          10 * time.Minute,
			SummaryWorkers:    2,
			Retry:             RetryPolicy{Backoff: backoff},
			Recipients:        []string{"ops@example.com"},
			Location:          time.UTC,
		},
		env.locker,
		env.source,
		ledger.NewChainValidator(hasher, logger),
		ledger.NewGapDetector(logger),
		ledger.NewDeduplicator(logger),
		env.writer,
		env.comp,
		summary.NewRuleEngine(15*time.Minute, 0, logger),
		env.store,
		env.bus,
		env.alerts,
		logger,
	)
	env.orch.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	})
	return env
}

func TestRunProcessesBatchEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	env.source.entries = chainEntries(t, 1, "", []string{"emp-1", "emp-2", "emp-3"}, base)

	var batchEvents []models.LedgerBatchProcessed
	env.bus.SubscribeBatchProcessed("test", func(ctx context.Context, event models.LedgerBatchProcessed) error {
		batchEvents = append(batchEvents, event)
		return nil
	})
	var summaryMu sync.Mutex
	var summaryEvents []models.SummaryUpdated
	env.bus.SubscribeSummaryUpdated("test", func(ctx context.Context, event models.SummaryUpdated) error {
		summaryMu.Lock()
		summaryEvents = append(summaryEvents, event)
		summaryMu.Unlock()
		return nil
	})

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.PolledCount)
	assert.Equal(t, 0, result.DuplicateCount)
	assert.Equal(t, 3, result.CreatedCount)
	assert.Equal(t, 3, result.SummariesUpdated)
	assert.True(t, result.HashChainValid)
	assert.Equal(t, 1, result.Attempts)
	assert.NotEmpty(t, result.RunID)

	// 写入批次带推进后的游标
	require.Len(t, env.writer.calls, 1)
	call := env.writer.calls[0]
	assert.Equal(t, []int64{1, 2, 3}, call.batchSeqs)
	assert.Equal(t, "attendance-pipeline", call.cursor.PipelineName)
	assert.Equal(t, int64(3), call.cursor.LastSequence)
	assert.Equal(t, env.source.entries[2].Hash, call.cursor.LastHash)

	// 变更事件在写入后发布
	require.Len(t, batchEvents, 1)
	assert.Equal(t, result.RunID, batchEvents[0].RunID)
	assert.Equal(t, 3, batchEvents[0].CreatedCount)
	assert.True(t, batchEvents[0].HashChainValid)
	assert.Len(t, summaryEvents, 3)

	// 汇总存储每个受影响员工/日一条
	assert.Len(t, env.store.upserts, 3)

	// 租约在运行结束后释放
	require.NotNil(t, env.locker.unlocker)
	assert.True(t, env.locker.unlocker.released)
	assert.Empty(t, env.alerts.alerts)
}

func TestRunSkipsWhenLeaseHeld(t *testing.T) {
	env := newTestEnv(t, nil)
	env.locker.held = true

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, env.source.pollCount)
	assert.Empty(t, env.writer.calls)
}

func TestRunEmptyBatchIsNoOp(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.cursor = repository.Cursor{PipelineName: "attendance-pipeline", LastSequence: 42, LastHash: "abc"}

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.PolledCount)
	assert.Empty(t, env.writer.calls)
	assert.Equal(t, int64(42), env.source.lastAfter)
	assert.Equal(t, 500, env.source.lastLimit)
}

func TestRunRetriesWithBackoff(t *testing.T) {
	env := newTestEnv(t, []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second})
	env.source.failPolls = 2
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	env.source.entries = chainEntries(t, 1, "", []string{"emp-1"}, base)

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second}, env.sleeps)
	assert.Equal(t, 1, result.CreatedCount)
	// 租约只获取一次，覆盖所有重试
	assert.Equal(t, 1, env.locker.acquired)
}

func TestRunExhaustsRetriesAndEscalates(t *testing.T) {
	env := newTestEnv(t, []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second})
	env.source.failPolls = 10

	result, err := env.orch.Run(context.Background(), false)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Failed)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second}, env.sleeps)

	criticals := env.alerts.bySeverity(models.SeverityCritical)
	require.Len(t, criticals, 1)
	assert.Contains(t, criticals[0].message, "exhausting retries")
	assert.Equal(t, 4, criticals[0].fields["attempts"])
}

func TestRunHashFailureAlertsAndExcludesEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	entries := chainEntries(t, 1, "", []string{"emp-1", "emp-2", "emp-3"}, base)
	// 篡改中间条目的负载，哈希不再匹配
	entries[1].Payload = []byte(`{"event":"time_in","employee_id":"intruder"}`)
	env.source.entries = entries

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.HashChainValid)

	// 完整性失败立即升级 critical
	criticals := env.alerts.bySeverity(models.SeverityCritical)
	require.Len(t, criticals, 1)
	assert.Equal(t, []int64{2}, criticals[0].fields["failed_sequences"])

	// 失败条目不写入，但整批序列号仍标记已处理
	require.Len(t, env.writer.calls, 1)
	call := env.writer.calls[0]
	require.Len(t, call.unique, 2)
	assert.Equal(t, int64(1), call.unique[0].Sequence)
	assert.Equal(t, int64(3), call.unique[1].Sequence)
	assert.Equal(t, []int64{1, 2, 3}, call.batchSeqs)
	assert.Equal(t, 2, result.CreatedCount)
}

func TestRunGapAboveThresholdAlertsWarning(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.cursor = repository.Cursor{PipelineName: "attendance-pipeline", LastSequence: 5}
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	// 序列 6..20 缺失，缺口 15 超过阈值 10
	env.source.entries = chainEntries(t, 21, "", []string{"emp-1"}, base)

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(15), result.GapCount)

	warnings := env.alerts.bySeverity(models.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(15), warnings[0].fields["gap_count"])
	// 缺口只告警，处理不阻塞
	assert.Equal(t, 1, result.CreatedCount)
}

func TestRunGapAtThresholdStaysSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.cursor = repository.Cursor{PipelineName: "attendance-pipeline", LastSequence: 5}
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	// 恰好缺 10 个，不超过阈值
	env.source.entries = chainEntries(t, 16, "", []string{"emp-1"}, base)

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.GapCount)
	assert.Empty(t, env.alerts.bySeverity(models.SeverityWarning))
}

func TestRunDryRunSkipsWrites(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	env.source.entries = chainEntries(t, 1, "", []string{"emp-1", "emp-2"}, base)

	var batchEvents int
	env.bus.SubscribeBatchProcessed("test", func(ctx context.Context, event models.LedgerBatchProcessed) error {
		batchEvents++
		return nil
	})

	result, err := env.orch.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.PolledCount)
	assert.Equal(t, 0, result.CreatedCount)

	// 干跑执行校验与计算，但不写入、不发布、不推进游标
	assert.Empty(t, env.writer.calls)
	assert.Empty(t, env.store.upserts)
	assert.Equal(t, 0, batchEvents)
	env.comp.mu.Lock()
	assert.Len(t, env.comp.calls, 2)
	env.comp.mu.Unlock()
}

func TestRunSummaryFailureDoesNotAbortRun(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	env.source.entries = chainEntries(t, 1, "", []string{"emp-1", "emp-2"}, base)
	env.comp.err = errors.New("schedule lookup failed")

	result, err := env.orch.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedCount)
	assert.Equal(t, 0, result.SummariesUpdated)
	assert.Equal(t, 2, result.SummaryFailures)
	assert.Empty(t, env.store.upserts)
}

func TestRunWriteFailureIsRetried(t *testing.T) {
	env := newTestEnv(t, []time.Duration{60 * time.Second})
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	env.source.entries = chainEntries(t, 1, "", []string{"emp-1"}, base)
	env.writer.err = errors.New("deadlock detected")

	result, err := env.orch.Run(context.Background(), false)
	require.Error(t, err)
	assert.True(t, result.Failed)
	assert.Len(t, env.writer.calls, 2)
	assert.Equal(t, []time.Duration{60 * time.Second}, env.sleeps)
}
