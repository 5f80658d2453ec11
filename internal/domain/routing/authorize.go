package routing

import (
	"context"
	"fmt"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
)

// Authorize checks actor against the level's approver using the live
// directory. The result is never cached.
func Authorize(ctx context.Context, dir Directory, level entity.RouteLevel, actor, requester string) error {
	deny := func(reason string) error {
		return &apperr.AuthorizationError{Level: level.Level, Actor: actor, Expected: level.Approver, Reason: reason}
	}

	if actor == "" {
		return deny("actor is required")
	}
	if actor == requester {
		return deny("requester cannot approve their own request")
	}

	u, err := dir.GetUser(ctx, actor)
	if err != nil {
		return fmt.Errorf("failed to look up actor %s: %w", actor, err)
	}
	if u == nil {
		return deny("actor not found in directory")
	}
	if !u.Enabled {
		return deny("actor is disabled")
	}

	switch level.Approver.Kind {
	case entity.ApproverIdentity:
		if u.ID != level.Approver.Value {
			return deny("actor is not the level approver")
		}
	case entity.ApproverRole:
		if !u.HasRole(level.Approver.Value) {
			return deny("actor does not hold the level role")
		}
	default:
		return deny("level has no valid approver")
	}
	return nil
}
