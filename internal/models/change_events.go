package models

import (
	"time"
)

// Severity 告警级别
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// LedgerBatchProcessed 账本批次处理完成事件
// 在写入事务提交后发布，至少一次投递
type LedgerBatchProcessed struct {
	RunID          string    `json:"run_id"`
	PolledCount    int       `json:"polled_count"`
	DedupedCount   int       `json:"deduped_count"`
	CreatedCount   int       `json:"created_count"`
	HashChainValid bool      `json:"hash_chain_valid"`
	GapCount       int64     `json:"gap_count"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// SummaryUpdated 每日汇总变更事件
// previous_values 为 nil 表示新建记录
type SummaryUpdated struct {
	RunID          string                 `json:"run_id"`
	Summary        DailyAttendanceSummary `json:"summary"`
	IsNew          bool                   `json:"is_new"`
	PreviousValues *SummaryValues         `json:"previous_values,omitempty"`
}
