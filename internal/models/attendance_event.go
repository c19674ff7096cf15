package models

import (
	"fmt"
	"time"
)

// EventType 考勤事件类型
type EventType string

const (
	EventTimeIn     EventType = "time_in"
	EventTimeOut    EventType = "time_out"
	EventBreakStart EventType = "break_start"
	EventBreakEnd   EventType = "break_end"
)

// ParseEventType 解析考勤事件类型
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventTimeIn, EventTimeOut, EventBreakStart, EventBreakEnd:
		return EventType(s), nil
	default:
		return "", fmt.Errorf("unknown event type: %q", s)
	}
}

// AttendanceEvent 规范化考勤事件（对应 attendance_events 表）
// 由 AttendanceEventWriter 一次性创建，之后不再修改；
// source_sequence 上的唯一约束保证账本条目到事件的 at-most-once 映射
type AttendanceEvent struct {
	EventID        string    `json:"event_id" db:"event_id"`
	EmployeeID     string    `json:"employee_id" db:"employee_id"`
	EventType      EventType `json:"event_type" db:"event_type"`
	EventTime      time.Time `json:"event_time" db:"event_time"`
	DeviceID       string    `json:"device_id" db:"device_id"`
	CardUID        string    `json:"card_uid" db:"card_uid"`
	SourceSequence int64     `json:"source_sequence" db:"source_sequence"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
