package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-attendance/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AttendanceEventRepository 考勤事件仓库
// 负责把去重、校验后的账本条目映射为规范化考勤事件，
// 与游标推进、processed_at 标记放在同一个事务里
type AttendanceEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttendanceEventRepository 创建考勤事件仓库
func NewAttendanceEventRepository(db *sql.DB, logger *zap.Logger) *AttendanceEventRepository {
	return &AttendanceEventRepository{
		db:     db,
		logger: logger,
	}
}

// WriteBatch 事务性写入一个批次
//   - uniqueEntries 插入为考勤事件，source_sequence 唯一约束保证幂等：
//     冲突按已处理跳过，不算错误
//   - batchSequences（整个轮询批次，含重复与失败条目）标记 processed_at
//   - 游标推进到本批最后序列号与最后有效哈希
//
// 负载无法解析的条目记录日志后跳过（ValidationError），批次继续
func (r *AttendanceEventRepository) WriteBatch(
	ctx context.Context,
	uniqueEntries []models.LedgerEntry,
	batchSequences []int64,
	cursor Cursor,
) ([]models.AttendanceEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO attendance_events
			(event_id, employee_id, event_type, event_time, device_id, card_uid, source_sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_sequence) DO NOTHING
	`

	now := time.Now()
	var created []models.AttendanceEvent

	for _, entry := range uniqueEntries {
		payload, err := entry.ParsePayload()
		if err != nil {
			// 单条负载损坏不中断批次
			r.logger.Warn("Skipping ledger entry with malformed payload",
				zap.Int64("sequence", entry.Sequence),
				zap.String("device_id", entry.DeviceID),
				zap.Error(err),
			)
			continue
		}

		event := models.AttendanceEvent{
			EventID:        uuid.New().String(),
			EmployeeID:     payload.EmployeeID,
			EventType:      models.EventType(payload.Event),
			EventTime:      entry.Timestamp,
			DeviceID:       entry.DeviceID,
			CardUID:        entry.CardUID,
			SourceSequence: entry.Sequence,
			CreatedAt:      now,
		}

		result, err := tx.ExecContext(ctx, insertQuery,
			event.EventID,
			event.EmployeeID,
			string(event.EventType),
			event.EventTime,
			event.DeviceID,
			event.CardUID,
			event.SourceSequence,
			event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert attendance event for sequence %d: %w", entry.Sequence, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			// source_sequence 冲突：该账本条目已处理过
			r.logger.Debug("Ledger entry already mapped, skipping",
				zap.Int64("sequence", entry.Sequence),
			)
			continue
		}

		created = append(created, event)
	}

	if len(batchSequences) > 0 {
		markQuery := `
			UPDATE access_ledger
			SET processed_at = $1
			WHERE sequence = ANY($2)
			  AND processed_at IS NULL
		`
		if _, err := tx.ExecContext(ctx, markQuery, now, pq.Array(batchSequences)); err != nil {
			return nil, fmt.Errorf("failed to mark ledger entries processed: %w", err)
		}
	}

	cursorQuery := `
		INSERT INTO pipeline_cursors (pipeline_name, last_sequence, last_hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pipeline_name) DO UPDATE
		SET last_sequence = EXCLUDED.last_sequence,
		    last_hash     = EXCLUDED.last_hash,
		    updated_at    = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, cursorQuery,
		cursor.PipelineName,
		cursor.LastSequence,
		cursor.LastHash,
		now,
	); err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	return created, nil
}

// GetEventsByEmployeeAndDate 获取某员工某天的考勤事件，按时间升序
// dayStart/dayEnd 为该业务日在本地时区的边界
func (r *AttendanceEventRepository) GetEventsByEmployeeAndDate(
	ctx context.Context,
	employeeID string,
	dayStart, dayEnd time.Time,
) ([]models.AttendanceEvent, error) {
	query := `
		SELECT event_id, employee_id, event_type, event_time, device_id, card_uid, source_sequence, created_at
		FROM attendance_events
		WHERE employee_id = $1
		  AND event_time >= $2
		  AND event_time < $3
		ORDER BY event_time ASC, source_sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, employeeID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance events: %w", err)
	}
	defer rows.Close()

	var events []models.AttendanceEvent
	for rows.Next() {
		var event models.AttendanceEvent
		var eventType string

		if err := rows.Scan(
			&event.EventID,
			&event.EmployeeID,
			&eventType,
			&event.EventTime,
			&event.DeviceID,
			&event.CardUID,
			&event.SourceSequence,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attendance event: %w", err)
		}

		event.EventType = models.EventType(eventType)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance events: %w", err)
	}

	return events, nil
}
