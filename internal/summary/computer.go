package summary

import (
	"context"
	"fmt"
	"time"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// EventSource 某员工某天的考勤事件来源
type EventSource interface {
	GetEventsByEmployeeAndDate(ctx context.Context, employeeID string, dayStart, dayEnd time.Time) ([]models.AttendanceEvent, error)
}

// ScheduleSource 生效排班来源
type ScheduleSource interface {
	GetSchedule(ctx context.Context, employeeID string, date time.Time) (*models.WorkSchedule, error)
}

// Computer 每日汇总计算器
// 从一天的考勤事件和生效排班推导时间指标；状态标志由 RuleEngine 负责
type Computer struct {
	events       EventSource
	schedules    ScheduleSource
	location     *time.Location
	systemUserID string
	logger       *zap.Logger
}

// NewComputer 创建汇总计算器
func NewComputer(
	events EventSource,
	schedules ScheduleSource,
	location *time.Location,
	systemUserID string,
	logger *zap.Logger,
) *Computer {
	return &Computer{
		events:       events,
		schedules:    schedules,
		location:     location,
		systemUserID: systemUserID,
		logger:       logger,
	}
}

// Compute 计算某员工某天的汇总指标
// 返回汇总与当日排班时间窗（窗为 nil 表示无排班或非工作日，
// 产出缺省缺勤汇总，不算失败）
func (c *Computer) Compute(ctx context.Context, employeeID string, date time.Time) (*models.DailyAttendanceSummary, *DaySchedule, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.location)
	dayEnd := day.Add(24 * time.Hour)

	summary := &models.DailyAttendanceSummary{
		EmployeeID:   employeeID,
		WorkDate:     day.Format("2006-01-02"),
		CalculatedAt: time.Now(),
		CalculatedBy: c.systemUserID,
	}

	schedule, err := c.schedules.GetSchedule(ctx, employeeID, day)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get schedule for %s on %s: %w", employeeID, summary.WorkDate, err)
	}

	window := schedule.WindowFor(day)
	if window == nil {
		// 无排班/非工作日：缺省缺勤汇总
		c.logger.Debug("No applicable schedule, defaulting to absent",
			zap.String("employee_id", employeeID),
			zap.String("work_date", summary.WorkDate),
		)
		return summary, nil, nil
	}

	daySchedule := &DaySchedule{
		Date:              day,
		Window:            *window,
		LunchBreakMinutes: schedule.LunchBreakMinutes,
		Location:          c.location,
	}

	events, err := c.events.GetEventsByEmployeeAndDate(ctx, employeeID, day, dayEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get events for %s on %s: %w", employeeID, summary.WorkDate, err)
	}

	c.fillTimeMetrics(summary, daySchedule, events)
	return summary, daySchedule, nil
}

// DaySchedule 某一天已解析的排班
type DaySchedule struct {
	Date              time.Time
	Window            models.ScheduleWindow
	LunchBreakMinutes int
	Location          *time.Location
}

// ScheduledStart 排班开始时刻
func (d *DaySchedule) ScheduledStart() time.Time {
	return d.Window.Start.At(d.Date, d.Location)
}

// ScheduledEnd 排班结束时刻
func (d *DaySchedule) ScheduledEnd() time.Time {
	return d.Window.End.At(d.Date, d.Location)
}

// ScheduledHours 扣除午休后的排班工时
func (d *DaySchedule) ScheduledHours() float64 {
	return float64(d.Window.ScheduledMinutes(d.LunchBreakMinutes)) / 60.0
}

// fillTimeMetrics 从事件序列提取时间指标
// 取首个 time_in、末个 time_out（容忍多次打卡）；break_start/break_end
// 顺序配对，未闭合的 break_start 不计入休息时长
func (c *Computer) fillTimeMetrics(summary *models.DailyAttendanceSummary, sched *DaySchedule, events []models.AttendanceEvent) {
	var breakTotal time.Duration
	var openBreak *time.Time
	var seqStart, seqEnd *int64

	for i := range events {
		event := events[i]

		if seqStart == nil || event.SourceSequence < *seqStart {
			seq := event.SourceSequence
			seqStart = &seq
		}
		if seqEnd == nil || event.SourceSequence > *seqEnd {
			seq := event.SourceSequence
			seqEnd = &seq
		}

		switch event.EventType {
		case models.EventTimeIn:
			if summary.TimeIn == nil {
				t := event.EventTime
				summary.TimeIn = &t
			}
		case models.EventTimeOut:
			t := event.EventTime
			summary.TimeOut = &t
		case models.EventBreakStart:
			if openBreak == nil {
				t := event.EventTime
				openBreak = &t
			}
		case models.EventBreakEnd:
			if openBreak != nil {
				breakTotal += event.EventTime.Sub(*openBreak)
				openBreak = nil
			}
		}
	}

	summary.LedgerSequenceStart = seqStart
	summary.LedgerSequenceEnd = seqEnd
	summary.BreakDurationMinutes = int(breakTotal / time.Minute)

	if summary.TimeIn == nil || summary.TimeOut == nil {
		return
	}

	worked := summary.TimeOut.Sub(*summary.TimeIn) - breakTotal
	if worked < 0 {
		worked = 0
	}
	summary.TotalHoursWorked = worked.Hours()

	scheduledHours := sched.ScheduledHours()
	if summary.TotalHoursWorked > scheduledHours {
		summary.RegularHours = scheduledHours
		summary.OvertimeHours = summary.TotalHoursWorked - scheduledHours
	} else {
		summary.RegularHours = summary.TotalHoursWorked
		summary.OvertimeHours = 0
	}
}
