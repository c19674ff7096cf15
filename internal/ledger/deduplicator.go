package ledger

import (
	"fmt"
	"sort"
	"time"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// Deduplicator 刷卡去重器
// 同一张卡在同一设备上短时间内的重复刷卡（物理按触抖动）合并为最早一次
type Deduplicator struct {
	logger *zap.Logger
}

// NewDeduplicator 创建去重器
func NewDeduplicator(logger *zap.Logger) *Deduplicator {
	return &Deduplicator{logger: logger}
}

// DedupeResult 去重结果
type DedupeResult struct {
	Unique         []models.LedgerEntry
	DuplicateCount int
}

// Dedupe 按 (card_uid, device_id, 事件类型) 在窗口内合并重复刷卡
// 负载无法解析的条目原样保留，由写入阶段按 ValidationError 跳过并记录
func (d *Deduplicator) Dedupe(entries []models.LedgerEntry, window time.Duration) DedupeResult {
	// 按时间排序逐条判断；离线补传场景下时间戳与序列号顺序可能不一致
	sorted := make([]models.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	lastKept := make(map[string]time.Time)
	duplicateSeqs := make(map[int64]bool)

	for _, entry := range sorted {
		payload, err := entry.ParsePayload()
		if err != nil {
			// 留给写入阶段处理
			continue
		}

		key := fmt.Sprintf("%s|%s|%s", entry.CardUID, entry.DeviceID, payload.Event)
		if last, ok := lastKept[key]; ok && entry.Timestamp.Sub(last) <= window {
			duplicateSeqs[entry.Sequence] = true
			d.logger.Debug("Duplicate swipe collapsed",
				zap.Int64("sequence", entry.Sequence),
				zap.String("card_uid", entry.CardUID),
				zap.String("device_id", entry.DeviceID),
				zap.String("event_type", payload.Event),
			)
			continue
		}
		lastKept[key] = entry.Timestamp
	}

	result := DedupeResult{
		Unique:         make([]models.LedgerEntry, 0, len(entries)),
		DuplicateCount: len(duplicateSeqs),
	}
	// 保留原始序列号顺序
	for _, entry := range entries {
		if !duplicateSeqs[entry.Sequence] {
			result.Unique = append(result.Unique, entry)
		}
	}

	return result
}
