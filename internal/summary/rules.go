package summary

import (
	"math"
	"time"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// RuleEngine 考勤状态规则引擎
// 把计算出的汇总分类为 present/late/absent/undertime/overtime 标志；
// 迟到/欠时/加班相互独立，可同日并存
type RuleEngine struct {
	gracePeriod       time.Duration
	overtimeThreshold time.Duration
	logger            *zap.Logger
}

// NewRuleEngine 创建规则引擎
func NewRuleEngine(gracePeriod, overtimeThreshold time.Duration, logger *zap.Logger) *RuleEngine {
	return &RuleEngine{
		gracePeriod:       gracePeriod,
		overtimeThreshold: overtimeThreshold,
		logger:            logger,
	}
}

// Classify 按固定顺序评估规则并打标
//  1. 缺勤：无 time_in ⇒ is_present=false，其余标志保持 false，短路返回
//  2. 出勤：有 time_in ⇒ is_present=true
//  3. 迟到：time_in 晚于 排班开始+宽限期（恰好等于宽限边界不算迟到）
//  4. 欠时：实际工时 < 排班工时
//  5. 加班：time_out 晚于 排班结束+加班阈值
func (e *RuleEngine) Classify(summary *models.DailyAttendanceSummary, sched *DaySchedule) {
	if summary.TimeIn == nil {
		summary.IsPresent = false
		summary.IsLate = false
		summary.IsUndertime = false
		summary.IsOvertime = false
		summary.LateMinutes = 0
		summary.UndertimeMinutes = 0
		return
	}

	summary.IsPresent = true

	if sched == nil {
		// 无排班时只有出勤标志有意义
		return
	}

	scheduledStart := sched.ScheduledStart()
	graceBoundary := scheduledStart.Add(e.gracePeriod)
	if summary.TimeIn.After(graceBoundary) {
		summary.IsLate = true
		lateBy := summary.TimeIn.Sub(scheduledStart) - e.gracePeriod
		summary.LateMinutes = int(math.Ceil(lateBy.Minutes()))
		if summary.LateMinutes < 0 {
			summary.LateMinutes = 0
		}
	}

	scheduledHours := sched.ScheduledHours()
	if summary.TotalHoursWorked < scheduledHours {
		summary.IsUndertime = true
		summary.UndertimeMinutes = int(math.Round((scheduledHours - summary.TotalHoursWorked) * 60))
	}

	if summary.TimeOut != nil {
		overtimeBoundary := sched.ScheduledEnd().Add(e.overtimeThreshold)
		if summary.TimeOut.After(overtimeBoundary) {
			summary.IsOvertime = true
		}
	}

	if summary.IsLate || summary.IsUndertime || summary.IsOvertime {
		e.logger.Debug("Summary flagged",
			zap.String("employee_id", summary.EmployeeID),
			zap.String("work_date", summary.WorkDate),
			zap.Bool("is_late", summary.IsLate),
			zap.Bool("is_undertime", summary.IsUndertime),
			zap.Bool("is_overtime", summary.IsOvertime),
		)
	}
}
