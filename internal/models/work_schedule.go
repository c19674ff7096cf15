package models

import (
	"time"
)

// MinuteOfDay 从午夜起的分钟数（0-1439）
// 排班时间窗按分钟存储，避免时区换算歧义
type MinuteOfDay int

// At 将分钟数落到指定日期在指定时区的具体时刻
func (m MinuteOfDay) At(date time.Time, loc *time.Location) time.Time {
	y, mo, d := date.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc).Add(time.Duration(m) * time.Minute)
}

// ScheduleWindow 单个工作日的排班时间窗
type ScheduleWindow struct {
	Start MinuteOfDay `json:"start"`
	End   MinuteOfDay `json:"end"`
}

// ScheduleScope 排班适用范围
type ScheduleScope string

const (
	ScopeEmployee   ScheduleScope = "employee"
	ScopeDepartment ScheduleScope = "department"
)

// WorkSchedule 工作排班（对应 work_schedules 表）
// Windows 按星期几显式寻址，缺失的星期几即非工作日；
// 同一范围同一日期最多只有一条生效排班
type WorkSchedule struct {
	ScheduleID        string                         `json:"schedule_id" db:"schedule_id"`
	Scope             ScheduleScope                  `json:"scope" db:"scope"`
	ScopeID           string                         `json:"scope_id" db:"scope_id"`
	Windows           map[time.Weekday]ScheduleWindow `json:"windows" db:"windows"` // JSONB
	LunchBreakMinutes int                            `json:"lunch_break_minutes" db:"lunch_break_minutes"`
	EffectiveFrom     time.Time                      `json:"effective_from" db:"effective_from"`
	EffectiveTo       *time.Time                     `json:"effective_to,omitempty" db:"effective_to"`
}

// WindowFor 获取指定日期所在星期几的排班时间窗；nil 表示非工作日
func (s *WorkSchedule) WindowFor(date time.Time) *ScheduleWindow {
	if s == nil {
		return nil
	}
	w, ok := s.Windows[date.Weekday()]
	if !ok {
		return nil
	}
	return &w
}

// ScheduledMinutes 扣除午休后的排班工作时长（分钟）
func (w ScheduleWindow) ScheduledMinutes(lunchBreakMinutes int) int {
	minutes := int(w.End-w.Start) - lunchBreakMinutes
	if minutes < 0 {
		return 0
	}
	return minutes
}
