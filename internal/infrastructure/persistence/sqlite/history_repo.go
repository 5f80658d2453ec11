package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/spend-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db *DB
}

// Create creates a new history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	if history.Timestamp.IsZero() {
		history.Timestamp = time.Now()
	}

	query := `
		INSERT INTO approval_history (
			request_id, line_id, actor, previous_state, new_state, previous_status, new_status,
			action_type, action_data, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		history.RequestID,
		history.LineID,
		history.Actor,
		history.PreviousState,
		history.NewState,
		history.PreviousStatus,
		history.NewStatus,
		history.ActionType,
		history.ActionData,
		history.Timestamp,
	)
	if err != nil {
		r.db.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// GetByRequestID retrieves all history records for a request
func (r *HistoryRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error) {
	query := `
		SELECT id, request_id, line_id, actor, previous_state, new_state, previous_status, new_status,
			action_type, action_data, timestamp
		FROM approval_history
		WHERE request_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		r.db.logger.Error("Failed to get history by request ID", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalHistory
	for rows.Next() {
		var record entity.ApprovalHistory
		err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.LineID,
			&record.Actor,
			&record.PreviousState,
			&record.NewState,
			&record.PreviousStatus,
			&record.NewStatus,
			&record.ActionType,
			&record.ActionData,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}
