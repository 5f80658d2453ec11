package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/routing"
	"go.uber.org/zap"
)

// RouteSettingRepository implements port.RouteSettingRepository
type RouteSettingRepository struct {
	db *DB
}

// Snapshot loads the route table and its meta row as one value
func (r *RouteSettingRepository) Snapshot(ctx context.Context) (*routing.Settings, error) {
	var snapshot *routing.Settings
	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.executor(ctx)

		var (
			version       int64
			budgetControl bool
		)
		err := exec.QueryRowContext(ctx,
			`SELECT version, budget_control FROM approval_route_meta WHERE id = 1`).Scan(&version, &budgetControl)
		if err != nil {
			return fmt.Errorf("failed to read route meta: %w", err)
		}

		rows, err := exec.QueryContext(ctx, `
			SELECT id, org_unit, categories, levels, created_at, updated_at
			FROM approval_route_settings
			ORDER BY id ASC
		`)
		if err != nil {
			return fmt.Errorf("failed to query route settings: %w", err)
		}
		defer rows.Close()

		var routes []entity.ApprovalRouteSetting
		for rows.Next() {
			var (
				s                  entity.ApprovalRouteSetting
				categories, levels string
			)
			if err := rows.Scan(&s.ID, &s.OrgUnit, &categories, &levels, &s.CreatedAt, &s.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan route setting: %w", err)
			}
			if err := fromJSON(categories, &s.Categories); err != nil {
				return err
			}
			if err := fromJSON(levels, &s.Levels); err != nil {
				return err
			}
			routes = append(routes, s)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		snapshot = routing.NewSettings(version, routes, budgetControl)
		return nil
	})
	if err != nil {
		r.db.logger.Error("Failed to load route settings", zap.Error(err))
		return nil, err
	}
	return snapshot, nil
}

// Replace swaps the route table and bumps its version
func (r *RouteSettingRepository) Replace(ctx context.Context, settings []entity.ApprovalRouteSetting, budgetControl bool) (int64, error) {
	for _, s := range settings {
		if err := routing.ValidateSetting(s); err != nil {
			return 0, err
		}
	}

	var version int64
	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.executor(ctx)
		if _, err := exec.ExecContext(ctx, `DELETE FROM approval_route_settings`); err != nil {
			return fmt.Errorf("failed to clear route settings: %w", err)
		}

		now := time.Now()
		for _, s := range settings {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO approval_route_settings (org_unit, categories, levels, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, s.OrgUnit, toJSON(s.Categories), toJSON(s.Levels), now, now)
			if err != nil {
				return fmt.Errorf("failed to insert route setting for %s: %w", s.OrgUnit, err)
			}
		}

		if _, err := exec.ExecContext(ctx,
			`UPDATE approval_route_meta SET version = version + 1, budget_control = ? WHERE id = 1`, budgetControl); err != nil {
			return fmt.Errorf("failed to bump route version: %w", err)
		}
		return exec.QueryRowContext(ctx, `SELECT version FROM approval_route_meta WHERE id = 1`).Scan(&version)
	})
	if err != nil {
		r.db.logger.Error("Failed to replace route settings", zap.Error(err))
		return 0, err
	}

	r.db.logger.Info("Route settings replaced", zap.Int64("version", version), zap.Int("settings", len(settings)),
		zap.Bool("budget_control", budgetControl))
	return version, nil
}
