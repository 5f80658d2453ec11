package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// LinkRepository implements port.LinkRepository
type LinkRepository struct {
	db *DB
}

const linkColumns = `id, request_id, kind, artifact_id, artifact_name, state, upstream_link_id,
	locked, lock_reason, created_at, updated_at`

// Create inserts a lifecycle link
func (r *LinkRepository) Create(ctx context.Context, link *entity.LifecycleLink) error {
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	query := `
		INSERT INTO lifecycle_links (
			request_id, kind, artifact_id, artifact_name, state, upstream_link_id,
			locked, lock_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		link.RequestID,
		string(link.Kind),
		link.ArtifactID,
		link.ArtifactName,
		string(link.State),
		link.UpstreamLinkID,
		link.Locked,
		link.LockReason,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		r.db.logger.Error("Failed to create lifecycle link", zap.Int64("request_id", link.RequestID), zap.Error(err))
		return fmt.Errorf("failed to create lifecycle link: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	link.ID = id
	return nil
}

// GetByID retrieves a link
func (r *LinkRepository) GetByID(ctx context.Context, id int64) (*entity.LifecycleLink, error) {
	query := `SELECT ` + linkColumns + ` FROM lifecycle_links WHERE id = ?`
	link, err := scanLink(r.db.executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("lifecycle link %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lifecycle link: %w", err)
	}
	return link, nil
}

// ListByRequest returns a request's links in creation order
func (r *LinkRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.LifecycleLink, error) {
	query := `SELECT ` + linkColumns + ` FROM lifecycle_links WHERE request_id = ? ORDER BY id ASC`
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle links: %w", err)
	}
	defer rows.Close()

	var links []*entity.LifecycleLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// Update writes a link's mutable fields
func (r *LinkRepository) Update(ctx context.Context, link *entity.LifecycleLink) error {
	link.UpdatedAt = time.Now()
	result, err := r.db.executor(ctx).ExecContext(ctx, `
		UPDATE lifecycle_links
		SET artifact_name = ?, state = ?, upstream_link_id = ?, locked = ?, lock_reason = ?, updated_at = ?
		WHERE id = ?
	`, link.ArtifactName, string(link.State), link.UpstreamLinkID, link.Locked, link.LockReason, link.UpdatedAt, link.ID)
	if err != nil {
		r.db.logger.Error("Failed to update lifecycle link", zap.Int64("link_id", link.ID), zap.Error(err))
		return fmt.Errorf("failed to update lifecycle link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperr.NotFoundf("lifecycle link %d", link.ID)
	}
	return nil
}

func scanLink(s scanner) (*entity.LifecycleLink, error) {
	var (
		link        entity.LifecycleLink
		kind, state string
		upstream    sql.NullInt64
	)
	err := s.Scan(
		&link.ID,
		&link.RequestID,
		&kind,
		&link.ArtifactID,
		&link.ArtifactName,
		&state,
		&upstream,
		&link.Locked,
		&link.LockReason,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	link.Kind = entity.ArtifactKind(kind)
	link.State = entity.ArtifactState(state)
	if upstream.Valid {
		id := upstream.Int64
		link.UpstreamLinkID = &id
	}
	return &link, nil
}
