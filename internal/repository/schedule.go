package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// ScheduleRepository 工作排班仓库
// 排班按范围（employee / department）存储，员工范围优先于部门范围；
// 每日时间窗以 JSONB 存储，键为星期几名称
type ScheduleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewScheduleRepository 创建排班仓库
func NewScheduleRepository(db *sql.DB, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger,
	}
}

// weekdayNames JSONB 键与 time.Weekday 的映射
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// GetSchedule 获取员工在指定日期的生效排班
// 先查员工范围的排班，再回退到该员工所在部门的排班；
// 都不存在时返回 nil（该员工当日按缺省缺勤汇总处理，不算失败）
func (r *ScheduleRepository) GetSchedule(ctx context.Context, employeeID string, date time.Time) (*models.WorkSchedule, error) {
	schedule, err := r.getByScope(ctx, models.ScopeEmployee, employeeID, date)
	if err != nil {
		return nil, err
	}
	if schedule != nil {
		return schedule, nil
	}

	departmentID, err := r.getDepartmentID(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if departmentID == "" {
		return nil, nil
	}

	return r.getByScope(ctx, models.ScopeDepartment, departmentID, date)
}

// getByScope 查询指定范围在指定日期的生效排班
// 同一范围同一日期最多一条生效排班；effective_from 最近的优先
func (r *ScheduleRepository) getByScope(ctx context.Context, scope models.ScheduleScope, scopeID string, date time.Time) (*models.WorkSchedule, error) {
	query := `
		SELECT schedule_id, scope, scope_id, windows, lunch_break_minutes, effective_from, effective_to
		FROM work_schedules
		WHERE scope = $1
		  AND scope_id = $2
		  AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to >= $3)
		ORDER BY effective_from DESC
		LIMIT 1
	`

	var schedule models.WorkSchedule
	var windowsJSON []byte
	var effectiveTo sql.NullTime

	err := r.db.QueryRowContext(ctx, query, string(scope), scopeID, date).Scan(
		&schedule.ScheduleID,
		&schedule.Scope,
		&schedule.ScopeID,
		&windowsJSON,
		&schedule.LunchBreakMinutes,
		&schedule.EffectiveFrom,
		&effectiveTo,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query work schedule: %w", err)
	}

	if effectiveTo.Valid {
		schedule.EffectiveTo = &effectiveTo.Time
	}

	windows, err := decodeWindows(windowsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode schedule windows for %s: %w", schedule.ScheduleID, err)
	}
	schedule.Windows = windows

	return &schedule, nil
}

// getDepartmentID 查询员工所属部门
func (r *ScheduleRepository) getDepartmentID(ctx context.Context, employeeID string) (string, error) {
	query := `
		SELECT department_id
		FROM employees
		WHERE employee_id = $1
	`

	var departmentID sql.NullString
	err := r.db.QueryRowContext(ctx, query, employeeID).Scan(&departmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query employee department: %w", err)
	}

	if !departmentID.Valid {
		return "", nil
	}
	return departmentID.String, nil
}

// decodeWindows 把 JSONB {"monday":{"start":480,"end":1020},...}
// 解码为显式的星期几映射；缺失的星期几即非工作日
func decodeWindows(data []byte) (map[time.Weekday]models.ScheduleWindow, error) {
	var raw map[string]models.ScheduleWindow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	windows := make(map[time.Weekday]models.ScheduleWindow, len(raw))
	for name, window := range raw {
		weekday, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday key: %q", name)
		}
		windows[weekday] = window
	}

	return windows, nil
}
