package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReservationRepository implements port.ReservationRepository
type ReservationRepository struct {
	db *DB
}

const reservationColumns = `id, org_unit, account, fiscal_period, amount, request_id, line_id, state,
	released_amount, release_reason, locked_at, released_at`

// Create inserts a reservation
func (r *ReservationRepository) Create(ctx context.Context, res *entity.BudgetReservation) error {
	query := `INSERT INTO budget_reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.executor(ctx).ExecContext(ctx, query,
		res.ID,
		res.Key.OrgUnit,
		res.Key.Account,
		res.Key.FiscalPeriod,
		res.Amount,
		res.RequestID,
		res.LineID,
		string(res.State),
		res.ReleasedAmount,
		string(res.ReleaseReason),
		res.LockedAt,
		res.ReleasedAt,
	)
	if err != nil {
		r.db.logger.Error("Failed to create reservation", zap.String("reservation_id", res.ID), zap.Error(err))
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetByID retrieves a reservation
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*entity.BudgetReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM budget_reservations WHERE id = ?`
	res, err := scanReservation(r.db.executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("reservation %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

// SumLocked totals locked reservations against key. Amounts are summed as
// decimals in Go; SQLite would sum the text column as a float.
func (r *ReservationRepository) SumLocked(ctx context.Context, key entity.BudgetKey) (decimal.Decimal, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, `
		SELECT amount FROM budget_reservations
		WHERE org_unit = ? AND account = ? AND fiscal_period = ? AND state = ?
	`, key.OrgUnit, key.Account, key.FiscalPeriod, string(entity.ReservationLocked))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum reservations: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan reservation amount: %w", err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

// MarkReleased writes the release only while the row is still locked
func (r *ReservationRepository) MarkReleased(ctx context.Context, res *entity.BudgetReservation) (bool, error) {
	result, err := r.db.executor(ctx).ExecContext(ctx, `
		UPDATE budget_reservations
		SET state = ?, released_amount = ?, release_reason = ?, released_at = ?
		WHERE id = ? AND state = ?
	`, string(res.State), res.ReleasedAmount, string(res.ReleaseReason), res.ReleasedAt,
		res.ID, string(entity.ReservationLocked))
	if err != nil {
		r.db.logger.Error("Failed to release reservation", zap.String("reservation_id", res.ID), zap.Error(err))
		return false, fmt.Errorf("failed to release reservation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, res.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListByRequest returns a request's reservations in lock order
func (r *ReservationRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.BudgetReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM budget_reservations WHERE request_id = ? ORDER BY locked_at ASC, id ASC`
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []*entity.BudgetReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservation(s scanner) (*entity.BudgetReservation, error) {
	var (
		res           entity.BudgetReservation
		state, reason string
		releasedAt    sql.NullTime
	)
	err := s.Scan(
		&res.ID,
		&res.Key.OrgUnit,
		&res.Key.Account,
		&res.Key.FiscalPeriod,
		&res.Amount,
		&res.RequestID,
		&res.LineID,
		&state,
		&res.ReleasedAmount,
		&reason,
		&res.LockedAt,
		&releasedAt,
	)
	if err != nil {
		return nil, err
	}
	res.State = entity.ReservationState(state)
	res.ReleaseReason = entity.ReleaseReason(reason)
	if releasedAt.Valid {
		res.ReleasedAt = &releasedAt.Time
	}
	return &res, nil
}
