package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/spend-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// BudgetRepository implements port.BudgetRepository
type BudgetRepository struct {
	db *DB
}

// Get returns nil, nil when the key has no budget row
func (r *BudgetRepository) Get(ctx context.Context, key entity.BudgetKey) (*entity.Budget, error) {
	query := `
		SELECT org_unit, account, fiscal_period, total, updated_at
		FROM budgets
		WHERE org_unit = ? AND account = ? AND fiscal_period = ?
	`
	b, err := scanBudget(r.db.executor(ctx).QueryRowContext(ctx, query, key.OrgUnit, key.Account, key.FiscalPeriod))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.db.logger.Error("Failed to get budget", zap.String("key", key.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

// Upsert sets the total for a key
func (r *BudgetRepository) Upsert(ctx context.Context, budget *entity.Budget) error {
	budget.UpdatedAt = time.Now()
	query := `
		INSERT INTO budgets (org_unit, account, fiscal_period, total, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (org_unit, account, fiscal_period)
		DO UPDATE SET total = excluded.total, updated_at = excluded.updated_at
	`
	_, err := r.db.executor(ctx).ExecContext(ctx, query,
		budget.Key.OrgUnit,
		budget.Key.Account,
		budget.Key.FiscalPeriod,
		budget.Total,
		budget.UpdatedAt,
	)
	if err != nil {
		r.db.logger.Error("Failed to upsert budget", zap.String("key", budget.Key.String()), zap.Error(err))
		return fmt.Errorf("failed to upsert budget: %w", err)
	}
	return nil
}

// List returns every budget ordered by key
func (r *BudgetRepository) List(ctx context.Context) ([]*entity.Budget, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, `
		SELECT org_unit, account, fiscal_period, total, updated_at
		FROM budgets
		ORDER BY org_unit, account, fiscal_period
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []*entity.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func scanBudget(s scanner) (*entity.Budget, error) {
	var b entity.Budget
	if err := s.Scan(&b.Key.OrgUnit, &b.Key.Account, &b.Key.FiscalPeriod, &b.Total, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
