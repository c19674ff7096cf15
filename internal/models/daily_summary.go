package models

import (
	"time"
)

// DailyAttendanceSummary 每日考勤汇总（对应 daily_attendance_summaries 表）
// 以 (employee_id, work_date) 唯一，首次计算创建、后续重算原地更新，
// upsert 的所有权归 SummaryRepository
type DailyAttendanceSummary struct {
	SummaryID            string     `json:"summary_id" db:"summary_id"`
	EmployeeID           string     `json:"employee_id" db:"employee_id"`
	WorkDate             string     `json:"work_date" db:"work_date"` // "2006-01-02"
	TimeIn               *time.Time `json:"time_in,omitempty" db:"time_in"`
	TimeOut              *time.Time `json:"time_out,omitempty" db:"time_out"`
	BreakDurationMinutes int        `json:"break_duration_minutes" db:"break_duration_minutes"`
	TotalHoursWorked     float64    `json:"total_hours_worked" db:"total_hours_worked"`
	RegularHours         float64    `json:"regular_hours" db:"regular_hours"`
	OvertimeHours        float64    `json:"overtime_hours" db:"overtime_hours"`
	IsPresent            bool       `json:"is_present" db:"is_present"`
	IsLate               bool       `json:"is_late" db:"is_late"`
	IsUndertime          bool       `json:"is_undertime" db:"is_undertime"`
	IsOvertime           bool       `json:"is_overtime" db:"is_overtime"`
	LateMinutes          int        `json:"late_minutes" db:"late_minutes"`
	UndertimeMinutes     int        `json:"undertime_minutes" db:"undertime_minutes"`
	LedgerSequenceStart  *int64     `json:"ledger_sequence_start,omitempty" db:"ledger_sequence_start"`
	LedgerSequenceEnd    *int64     `json:"ledger_sequence_end,omitempty" db:"ledger_sequence_end"`
	CalculatedAt         time.Time  `json:"calculated_at" db:"calculated_at"`
	CalculatedBy         string     `json:"calculated_by" db:"calculated_by"` // 系统用户 ID（启动时注入）
}

// SummaryValues 汇总字段快照（变更事件中的 previous_values）
type SummaryValues struct {
	TimeIn               *time.Time `json:"time_in,omitempty"`
	TimeOut              *time.Time `json:"time_out,omitempty"`
	BreakDurationMinutes int        `json:"break_duration_minutes"`
	TotalHoursWorked     float64    `json:"total_hours_worked"`
	RegularHours         float64    `json:"regular_hours"`
	OvertimeHours        float64    `json:"overtime_hours"`
	IsPresent            bool       `json:"is_present"`
	IsLate               bool       `json:"is_late"`
	IsUndertime          bool       `json:"is_undertime"`
	IsOvertime           bool       `json:"is_overtime"`
	LateMinutes          int        `json:"late_minutes"`
	UndertimeMinutes     int        `json:"undertime_minutes"`
}

// Values 提取汇总的字段快照
func (s *DailyAttendanceSummary) Values() SummaryValues {
	return SummaryValues{
		TimeIn:               s.TimeIn,
		TimeOut:              s.TimeOut,
		BreakDurationMinutes: s.BreakDurationMinutes,
		TotalHoursWorked:     s.TotalHoursWorked,
		RegularHours:         s.RegularHours,
		OvertimeHours:        s.OvertimeHours,
		IsPresent:            s.IsPresent,
		IsLate:               s.IsLate,
		IsUndertime:          s.IsUndertime,
		IsOvertime:           s.IsOvertime,
		LateMinutes:          s.LateMinutes,
		UndertimeMinutes:     s.UndertimeMinutes,
	}
}
