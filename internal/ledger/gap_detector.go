package ledger

import (
	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// GapDetector 序列号缺口检测器
// 缺口通常来自离线设备补传，不阻塞处理；缺口两侧的条目照常校验和写入
type GapDetector struct {
	logger *zap.Logger
}

// NewGapDetector 创建缺口检测器
func NewGapDetector(logger *zap.Logger) *GapDetector {
	return &GapDetector{logger: logger}
}

// Gaps 检测自上次运行最后序列号以来缺失的序列号区间
// entries 必须按 sequence 升序；lastSeenSeq 为 0 表示首次运行，
// 此时不把起始序列号之前的历史算作缺口
func (d *GapDetector) Gaps(entries []models.LedgerEntry, lastSeenSeq int64) ([]models.SequenceGap, int64) {
	var gaps []models.SequenceGap
	var missing int64

	prev := lastSeenSeq
	for i, entry := range entries {
		if prev == 0 && i == 0 {
			prev = entry.Sequence
			continue
		}
		if entry.Sequence > prev+1 {
			gap := models.SequenceGap{FromSeq: prev + 1, ToSeq: entry.Sequence - 1}
			gaps = append(gaps, gap)
			missing += gap.Missing()
			d.logger.Warn("Sequence gap detected",
				zap.Int64("from_seq", gap.FromSeq),
				zap.Int64("to_seq", gap.ToSeq),
				zap.Int64("missing", gap.Missing()),
			)
		}
		prev = entry.Sequence
	}

	return gaps, missing
}
