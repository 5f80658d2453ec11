package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
)

// DirectoryRepository implements port.DirectoryRepository over the users table
type DirectoryRepository struct {
	db *DB
}

// GetUser returns nil, nil for an unknown id
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*entity.User, error) {
	u, err := scanUser(r.db.executor(ctx).QueryRowContext(ctx,
		`SELECT id, name, enabled, roles FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return u, nil
}

// UsersWithRole returns every user, enabled or not, holding role
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, role string) ([]*entity.User, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, `SELECT id, name, enabled, roles FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if u.HasRole(role) {
			users = append(users, u)
		}
	}
	return users, rows.Err()
}

// UpsertUser inserts or replaces a user
func (r *DirectoryRepository) UpsertUser(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		return apperr.Validationf("user id is required")
	}
	_, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO users (id, name, enabled, roles) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, enabled = excluded.enabled, roles = excluded.roles
	`, user.ID, user.Name, user.Enabled, toJSON(user.Roles))
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

func scanUser(s scanner) (*entity.User, error) {
	var (
		u     entity.User
		roles string
	)
	if err := s.Scan(&u.ID, &u.Name, &u.Enabled, &roles); err != nil {
		return nil, err
	}
	if err := fromJSON(roles, &u.Roles); err != nil {
		return nil, err
	}
	return &u, nil
}

// Verify interface compliance
var (
	_ port.RequestRepository      = (*RequestRepository)(nil)
	_ port.RouteSettingRepository = (*RouteSettingRepository)(nil)
	_ port.BudgetRepository       = (*BudgetRepository)(nil)
	_ port.ReservationRepository  = (*ReservationRepository)(nil)
	_ port.LinkRepository         = (*LinkRepository)(nil)
	_ port.HistoryRepository      = (*HistoryRepository)(nil)
	_ port.DirectoryRepository    = (*DirectoryRepository)(nil)
)
