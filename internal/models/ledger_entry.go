package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// LedgerEntry 账本条目（对应 access_ledger 表）
// 由门禁设备端写入，服务端只读；processed_at 是唯一允许的修改
type LedgerEntry struct {
	Sequence    int64      `json:"sequence" db:"sequence"`
	DeviceID    string     `json:"device_id" db:"device_id"`
	CardUID     string     `json:"card_uid" db:"card_uid"`
	Timestamp   time.Time  `json:"timestamp" db:"timestamp"`
	Payload     []byte     `json:"payload" db:"payload"` // JSONB: {"event":"time_in","employee_id":"..."}
	PrevHash    string     `json:"prev_hash" db:"prev_hash"`
	Hash        string     `json:"hash" db:"hash"` // H(prev_hash ‖ payload)
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// LedgerPayload 账本条目负载（JSONB 结构）
type LedgerPayload struct {
	Event      string `json:"event"` // time_in, time_out, break_start, break_end
	EmployeeID string `json:"employee_id"`
	DeviceID   string `json:"device_id,omitempty"`
	CardUID    string `json:"card_uid,omitempty"`
}

// ParsePayload 解析条目负载并校验事件类型
// 负载格式错误属于 ValidationError：跳过该条目、记录日志、批次继续
func (e *LedgerEntry) ParsePayload() (*LedgerPayload, error) {
	var payload LedgerPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed payload at sequence %d: %w", e.Sequence, err)
	}
	if _, err := ParseEventType(payload.Event); err != nil {
		return nil, fmt.Errorf("malformed payload at sequence %d: %w", e.Sequence, err)
	}
	if payload.EmployeeID == "" {
		return nil, fmt.Errorf("malformed payload at sequence %d: missing employee_id", e.Sequence)
	}
	return &payload, nil
}

// SequenceGap 序列号缺口（离线设备补传的信号）
type SequenceGap struct {
	FromSeq int64 `json:"from_seq"`
	ToSeq   int64 `json:"to_seq"`
}

// Missing 缺失的序列号数量
func (g SequenceGap) Missing() int64 {
	return g.ToSeq - g.FromSeq + 1
}
