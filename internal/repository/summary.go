package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-attendance/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SummaryRepository 每日考勤汇总仓库
// (employee_id, work_date) 唯一；首次计算创建、重算原地更新。
// upsert 通过行锁串行化同一 key 上的并发写，防止并行汇总丢失更新
type SummaryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSummaryRepository 创建汇总仓库
func NewSummaryRepository(db *sql.DB, logger *zap.Logger) *SummaryRepository {
	return &SummaryRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertResult 汇总 upsert 的结果
type UpsertResult struct {
	Record *models.DailyAttendanceSummary
	IsNew  bool
	// Previous 更新前的字段快照；新建时为 nil
	Previous *models.SummaryValues
}

// Upsert 创建或更新每日汇总，返回变更差异供订阅方消费
func (r *SummaryRepository) Upsert(ctx context.Context, summary *models.DailyAttendanceSummary) (*UpsertResult, error) {
	if summary.EmployeeID == "" {
		return nil, fmt.Errorf("employee_id is required")
	}
	if summary.WorkDate == "" {
		return nil, fmt.Errorf("work_date is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT summary_id, time_in, time_out, break_duration_minutes,
		       total_hours_worked, regular_hours, overtime_hours,
		       is_present, is_late, is_undertime, is_overtime,
		       late_minutes, undertime_minutes
		FROM daily_attendance_summaries
		WHERE employee_id = $1 AND work_date = $2
		FOR UPDATE
	`

	var existingID string
	var prev models.SummaryValues
	var timeIn, timeOut sql.NullTime

	err = tx.QueryRowContext(ctx, selectQuery, summary.EmployeeID, summary.WorkDate).Scan(
		&existingID,
		&timeIn,
		&timeOut,
		&prev.BreakDurationMinutes,
		&prev.TotalHoursWorked,
		&prev.RegularHours,
		&prev.OvertimeHours,
		&prev.IsPresent,
		&prev.IsLate,
		&prev.IsUndertime,
		&prev.IsOvertime,
		&prev.LateMinutes,
		&prev.UndertimeMinutes,
	)

	switch {
	case err == sql.ErrNoRows:
		// 首次计算：创建新记录
		summary.SummaryID = uuid.New().String()
		insertQuery := `
			INSERT INTO daily_attendance_summaries
				(summary_id, employee_id, work_date, time_in, time_out,
				 break_duration_minutes, total_hours_worked, regular_hours, overtime_hours,
				 is_present, is_late, is_undertime, is_overtime,
				 late_minutes, undertime_minutes,
				 ledger_sequence_start, ledger_sequence_end, calculated_at, calculated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`
		if _, err := tx.ExecContext(ctx, insertQuery,
			summary.SummaryID, summary.EmployeeID, summary.WorkDate,
			summary.TimeIn, summary.TimeOut,
			summary.BreakDurationMinutes, summary.TotalHoursWorked,
			summary.RegularHours, summary.OvertimeHours,
			summary.IsPresent, summary.IsLate, summary.IsUndertime, summary.IsOvertime,
			summary.LateMinutes, summary.UndertimeMinutes,
			summary.LedgerSequenceStart, summary.LedgerSequenceEnd,
			summary.CalculatedAt, summary.CalculatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to insert daily summary: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit summary insert: %w", err)
		}

		return &UpsertResult{Record: summary, IsNew: true}, nil

	case err != nil:
		return nil, fmt.Errorf("failed to query daily summary: %w", err)
	}

	if timeIn.Valid {
		prev.TimeIn = &timeIn.Time
	}
	if timeOut.Valid {
		prev.TimeOut = &timeOut.Time
	}

	// 重算：原地更新既有记录
	summary.SummaryID = existingID
	updateQuery := `
		UPDATE daily_attendance_summaries
		SET time_in = $1, time_out = $2,
		    break_duration_minutes = $3, total_hours_worked = $4,
		    regular_hours = $5, overtime_hours = $6,
		    is_present = $7, is_late = $8, is_undertime = $9, is_overtime = $10,
		    late_minutes = $11, undertime_minutes = $12,
		    ledger_sequence_start = $13, ledger_sequence_end = $14,
		    calculated_at = $15, calculated_by = $16
		WHERE summary_id = $17
	`
	if _, err := tx.ExecContext(ctx, updateQuery,
		summary.TimeIn, summary.TimeOut,
		summary.BreakDurationMinutes, summary.TotalHoursWorked,
		summary.RegularHours, summary.OvertimeHours,
		summary.IsPresent, summary.IsLate, summary.IsUndertime, summary.IsOvertime,
		summary.LateMinutes, summary.UndertimeMinutes,
		summary.LedgerSequenceStart, summary.LedgerSequenceEnd,
		summary.CalculatedAt, summary.CalculatedBy,
		summary.SummaryID,
	); err != nil {
		return nil, fmt.Errorf("failed to update daily summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit summary update: %w", err)
	}

	return &UpsertResult{Record: summary, IsNew: false, Previous: &prev}, nil
}

// ListByDateRange 列出日期区间内的汇总记录（用于报表导出）
// from/to 为 "2006-01-02" 格式，闭区间
func (r *SummaryRepository) ListByDateRange(ctx context.Context, from, to string) ([]models.DailyAttendanceSummary, error) {
	query := `
		SELECT summary_id, employee_id, work_date, time_in, time_out,
		       break_duration_minutes, total_hours_worked, regular_hours, overtime_hours,
		       is_present, is_late, is_undertime, is_overtime,
		       late_minutes, undertime_minutes,
		       ledger_sequence_start, ledger_sequence_end, calculated_at, calculated_by
		FROM daily_attendance_summaries
		WHERE work_date >= $1 AND work_date <= $2
		ORDER BY work_date ASC, employee_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.DailyAttendanceSummary
	for rows.Next() {
		var s models.DailyAttendanceSummary
		var timeIn, timeOut sql.NullTime
		var seqStart, seqEnd sql.NullInt64

		if err := rows.Scan(
			&s.SummaryID, &s.EmployeeID, &s.WorkDate,
			&timeIn, &timeOut,
			&s.BreakDurationMinutes, &s.TotalHoursWorked, &s.RegularHours, &s.OvertimeHours,
			&s.IsPresent, &s.IsLate, &s.IsUndertime, &s.IsOvertime,
			&s.LateMinutes, &s.UndertimeMinutes,
			&seqStart, &seqEnd, &s.CalculatedAt, &s.CalculatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}

		if timeIn.Valid {
			s.TimeIn = &timeIn.Time
		}
		if timeOut.Valid {
			s.TimeOut = &timeOut.Time
		}
		if seqStart.Valid {
			s.LedgerSequenceStart = &seqStart.Int64
		}
		if seqEnd.Valid {
			s.LedgerSequenceEnd = &seqEnd.Int64
		}

		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily summaries: %w", err)
	}

	return summaries, nil
}
