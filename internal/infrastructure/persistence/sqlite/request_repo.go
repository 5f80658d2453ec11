package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/projection"
	"github.com/garyjia/spend-approval/internal/domain/workflow"
	"go.uber.org/zap"
)

// RequestRepository implements port.RequestRepository. Lines live in
// request_lines; routes and decisions are stored as JSON columns.
type RequestRepository struct {
	db *DB
}

const requestColumns = `id, requester, org_unit, account, fiscal_period, categories, amount, currency,
	description, workflow_state, status, cancelled, current_level, route, route_version, decisions,
	reservation_id, version, submitted_at, cancelled_at, created_at, updated_at`

// Create inserts a request and its lines
func (r *RequestRepository) Create(ctx context.Context, req *entity.SpendRequest) error {
	if err := projection.Verify(req); err != nil {
		return err
	}

	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO spend_requests (
				requester, org_unit, account, fiscal_period, categories, amount, currency,
				description, workflow_state, status, cancelled, current_level, route, route_version,
				decisions, reservation_id, version, submitted_at, cancelled_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		`
		result, err := r.db.executor(ctx).ExecContext(ctx, query,
			req.Requester,
			req.OrgUnit,
			req.Account,
			req.FiscalPeriod,
			toJSON(req.Categories),
			req.Amount,
			req.Currency,
			req.Description,
			req.WorkflowState.String(),
			req.Status,
			req.Cancelled,
			req.CurrentLevel,
			toJSON(req.Route),
			req.RouteVersion,
			toJSON(req.Decisions),
			req.ReservationID,
			req.SubmittedAt,
			req.CancelledAt,
			req.CreatedAt,
			req.UpdatedAt,
		)
		if err != nil {
			r.db.logger.Error("Failed to create spend request", zap.Error(err))
			return fmt.Errorf("failed to create spend request: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		req.ID = id
		req.Version = 1

		return r.saveLines(ctx, req)
	})
}

// GetByID retrieves a request with its lines
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.SpendRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM spend_requests WHERE id = ?`

	req, err := scanRequest(r.db.executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("spend request %d", id)
	}
	if err != nil {
		r.db.logger.Error("Failed to get spend request", zap.Int64("request_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get spend request: %w", err)
	}

	if req.Lines, err = r.loadLines(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

// List returns requests matching filter, newest first
func (r *RequestRepository) List(ctx context.Context, filter port.RequestFilter) ([]*entity.SpendRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OrgUnit != "" {
		where = append(where, "org_unit = ?")
		args = append(args, filter.OrgUnit)
	}
	if filter.Requester != "" {
		where = append(where, "requester = ?")
		args = append(args, filter.Requester)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM spend_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.db.logger.Error("Failed to list spend requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list spend requests: %w", err)
	}

	var requests []*entity.SpendRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan spend request: %w", err)
		}
		requests = append(requests, req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// lines are loaded after the cursor is closed; a single connection
	// cannot serve a second query while rows are open
	for _, req := range requests {
		if req.Lines, err = r.loadLines(ctx, req.ID); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// Update writes the request when the stored version still equals expectedVersion
func (r *RequestRepository) Update(ctx context.Context, req *entity.SpendRequest, expectedVersion int64) error {
	if err := projection.Verify(req); err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		now := time.Now()
		query := `
			UPDATE spend_requests SET
				requester = ?, org_unit = ?, account = ?, fiscal_period = ?, categories = ?, amount = ?,
				currency = ?, description = ?, workflow_state = ?, status = ?, cancelled = ?,
				current_level = ?, route = ?, route_version = ?, decisions = ?, reservation_id = ?,
				submitted_at = ?, cancelled_at = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`
		result, err := r.db.executor(ctx).ExecContext(ctx, query,
			req.Requester,
			req.OrgUnit,
			req.Account,
			req.FiscalPeriod,
			toJSON(req.Categories),
			req.Amount,
			req.Currency,
			req.Description,
			req.WorkflowState.String(),
			req.Status,
			req.Cancelled,
			req.CurrentLevel,
			toJSON(req.Route),
			req.RouteVersion,
			toJSON(req.Decisions),
			req.ReservationID,
			req.SubmittedAt,
			req.CancelledAt,
			now,
			req.ID,
			expectedVersion,
		)
		if err != nil {
			r.db.logger.Error("Failed to update spend request", zap.Int64("request_id", req.ID), zap.Error(err))
			return fmt.Errorf("failed to update spend request: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			var actual int64
			err := r.db.executor(ctx).QueryRowContext(ctx,
				`SELECT version FROM spend_requests WHERE id = ?`, req.ID).Scan(&actual)
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFoundf("spend request %d", req.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to read spend request version: %w", err)
			}
			return &apperr.ConcurrentModificationError{
				RequestID: req.ID,
				Expected:  expectedVersion,
				Actual:    actual,
				Reason:    "version changed before write",
			}
		}

		req.Version = expectedVersion + 1
		req.UpdatedAt = now
		return r.saveLines(ctx, req)
	})
}

// saveLines replaces the stored lines, keeping the ids already assigned
func (r *RequestRepository) saveLines(ctx context.Context, req *entity.SpendRequest) error {
	exec := r.db.executor(ctx)
	if _, err := exec.ExecContext(ctx, `DELETE FROM request_lines WHERE request_id = ?`, req.ID); err != nil {
		return fmt.Errorf("failed to clear request lines: %w", err)
	}

	query := `
		INSERT INTO request_lines (
			id, request_id, position, org_unit, account, description, amount, line_status,
			current_level, route, decisions, reservation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, l := range req.Lines {
		var id sql.NullInt64
		if l.ID != 0 {
			id = sql.NullInt64{Int64: l.ID, Valid: true}
		}
		result, err := exec.ExecContext(ctx, query,
			id,
			req.ID,
			i,
			l.OrgUnit,
			l.Account,
			l.Description,
			l.Amount,
			l.State.String(),
			l.CurrentLevel,
			toJSON(l.Route),
			toJSON(l.Decisions),
			l.ReservationID,
		)
		if err != nil {
			return fmt.Errorf("failed to save request line: %w", err)
		}
		if l.ID == 0 {
			if l.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get last insert id: %w", err)
			}
		}
		l.RequestID = req.ID
	}
	return nil
}

func (r *RequestRepository) loadLines(ctx context.Context, requestID int64) ([]*entity.RequestLine, error) {
	query := `
		SELECT id, request_id, org_unit, account, description, amount, line_status,
			current_level, route, decisions, reservation_id
		FROM request_lines
		WHERE request_id = ?
		ORDER BY position ASC
	`
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request lines: %w", err)
	}
	defer rows.Close()

	var lines []*entity.RequestLine
	for rows.Next() {
		var (
			l                entity.RequestLine
			state            string
			route, decisions string
		)
		if err := rows.Scan(
			&l.ID,
			&l.RequestID,
			&l.OrgUnit,
			&l.Account,
			&l.Description,
			&l.Amount,
			&state,
			&l.CurrentLevel,
			&route,
			&decisions,
			&l.ReservationID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request line: %w", err)
		}
		l.State = workflow.State(state)
		if err := fromJSON(route, &l.Route); err != nil {
			return nil, err
		}
		if err := fromJSON(decisions, &l.Decisions); err != nil {
			return nil, err
		}
		lines = append(lines, &l)
	}
	return lines, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*entity.SpendRequest, error) {
	var (
		req                          entity.SpendRequest
		state                        string
		categories, route, decisions string
		submittedAt, cancelledAt     sql.NullTime
	)
	err := s.Scan(
		&req.ID,
		&req.Requester,
		&req.OrgUnit,
		&req.Account,
		&req.FiscalPeriod,
		&categories,
		&req.Amount,
		&req.Currency,
		&req.Description,
		&state,
		&req.Status,
		&req.Cancelled,
		&req.CurrentLevel,
		&route,
		&req.RouteVersion,
		&decisions,
		&req.ReservationID,
		&req.Version,
		&submittedAt,
		&cancelledAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.WorkflowState = workflow.State(state)
	if submittedAt.Valid {
		req.SubmittedAt = &submittedAt.Time
	}
	if cancelledAt.Valid {
		req.CancelledAt = &cancelledAt.Time
	}
	if err := fromJSON(categories, &req.Categories); err != nil {
		return nil, err
	}
	if err := fromJSON(route, &req.Route); err != nil {
		return nil, err
	}
	if err := fromJSON(decisions, &req.Decisions); err != nil {
		return nil, err
	}
	return &req, nil
}

// toJSON encodes a column value; nil slices are stored as "[]"
func toJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return "[]"
	}
	return string(raw)
}

func fromJSON(s string, v interface{}) error {
	if s == "" || s == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	return nil
}
