package ledger

import (
	"testing"
	"time"

	"wisefido-attendance/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func swipeEntry(seq int64, cardUID, deviceID, event string, at time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		Sequence:  seq,
		DeviceID:  deviceID,
		CardUID:   cardUID,
		Timestamp: at,
		Payload:   []byte(`{"event":"` + event + `","employee_id":"emp-1"}`),
	}
}

func TestDedupe_CollapsesBouncedSwipes(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	entries := []models.LedgerEntry{
		swipeEntry(1, "card-a", "door-1", "time_in", base),
		swipeEntry(2, "card-a", "door-1", "time_in", base.Add(3*time.Second)),
		swipeEntry(3, "card-a", "door-1", "time_in", base.Add(7*time.Second)),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	assert.Len(t, result.Unique, 1)
	assert.Equal(t, int64(1), result.Unique[0].Sequence) // 保留最早一次
	assert.Equal(t, 2, result.DuplicateCount)
}

func TestDedupe_DifferentCardsNotCollapsed(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	entries := []models.LedgerEntry{
		swipeEntry(1, "card-a", "door-1", "time_in", base),
		swipeEntry(2, "card-b", "door-1", "time_in", base.Add(time.Second)),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	assert.Len(t, result.Unique, 2)
	assert.Zero(t, result.DuplicateCount)
}

func TestDedupe_DifferentDevicesNotCollapsed(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	entries := []models.LedgerEntry{
		swipeEntry(1, "card-a", "door-1", "time_in", base),
		swipeEntry(2, "card-a", "door-2", "time_in", base.Add(time.Second)),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	assert.Len(t, result.Unique, 2)
	assert.Zero(t, result.DuplicateCount)
}

func TestDedupe_DifferentEventTypesNotCollapsed(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	entries := []models.LedgerEntry{
		swipeEntry(1, "card-a", "door-1", "break_start", base),
		swipeEntry(2, "card-a", "door-1", "break_end", base.Add(30*time.Second)),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	assert.Len(t, result.Unique, 2)
	assert.Zero(t, result.DuplicateCount)
}

func TestDedupe_OutsideWindowKept(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	// 早晚各刷一次 time_in（多次打卡容忍，由汇总计算取首个 time_in）
	entries := []models.LedgerEntry{
		swipeEntry(1, "card-a", "door-1", "time_in", base),
		swipeEntry(2, "card-a", "door-1", "time_in", base.Add(5*time.Minute)),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	assert.Len(t, result.Unique, 2)
	assert.Zero(t, result.DuplicateCount)
}

func TestDedupe_MalformedPayloadPassedThrough(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	entries := []models.LedgerEntry{
		{Sequence: 1, CardUID: "card-a", DeviceID: "door-1", Timestamp: base, Payload: []byte(`not-json`)},
		swipeEntry(2, "card-a", "door-1", "time_in", base.Add(time.Second)),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	// 负载损坏的条目原样保留，写入阶段按 ValidationError 跳过
	assert.Len(t, result.Unique, 2)
	assert.Zero(t, result.DuplicateCount)
}

func TestDedupe_OutOfOrderTimestamps(t *testing.T) {
	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	// 补传场景：序列号靠后的条目时间戳更早，仍应保留时间上最早的那次
	entries := []models.LedgerEntry{
		swipeEntry(10, "card-a", "door-1", "time_in", base.Add(5*time.Second)),
		swipeEntry(11, "card-a", "door-1", "time_in", base),
	}

	result := dedup.Dedupe(entries, 90*time.Second)

	assert.Len(t, result.Unique, 1)
	assert.Equal(t, int64(11), result.Unique[0].Sequence)
	assert.Equal(t, 1, result.DuplicateCount)
}
