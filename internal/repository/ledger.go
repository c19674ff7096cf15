package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// LedgerRepository 账本仓库
// access_ledger 表由门禁设备流写入，这里只读；唯一的修改是
// 写入阶段在同一事务里设置 processed_at
type LedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedgerRepository 创建账本仓库
func NewLedgerRepository(db *sql.DB, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

// Cursor 流水线读取游标（对应 pipeline_cursors 表）
type Cursor struct {
	PipelineName string
	LastSequence int64
	LastHash     string
}

// GetCursor 获取流水线游标；不存在表示首次运行
func (r *LedgerRepository) GetCursor(ctx context.Context, pipelineName string) (Cursor, error) {
	query := `
		SELECT pipeline_name, last_sequence, last_hash
		FROM pipeline_cursors
		WHERE pipeline_name = $1
	`

	var cursor Cursor
	err := r.db.QueryRowContext(ctx, query, pipelineName).Scan(
		&cursor.PipelineName,
		&cursor.LastSequence,
		&cursor.LastHash,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Cursor{PipelineName: pipelineName}, nil
		}
		return Cursor{}, fmt.Errorf("failed to query cursor: %w", err)
	}

	return cursor, nil
}

// PollAfter 拉取游标之后未处理的账本条目，按 sequence 升序
// 已标记 processed_at 的条目被排除，使同一游标的重复调用
// 在一次成功运行后返回空集，整条流水线因此可安全重触发
func (r *LedgerRepository) PollAfter(ctx context.Context, afterSequence int64, limit int) ([]models.LedgerEntry, error) {
	query := `
		SELECT sequence, device_id, card_uid, timestamp, payload, prev_hash, hash, processed_at
		FROM access_ledger
		WHERE sequence > $1
		  AND processed_at IS NULL
		ORDER BY sequence ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var processedAt sql.NullTime

		if err := rows.Scan(
			&entry.Sequence,
			&entry.DeviceID,
			&entry.CardUID,
			&entry.Timestamp,
			&entry.Payload,
			&entry.PrevHash,
			&entry.Hash,
			&processedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		if processedAt.Valid {
			entry.ProcessedAt = &processedAt.Time
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	return entries, nil
}
