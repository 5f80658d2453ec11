// Package routing resolves approval routes and checks who may act on them.
package routing

import (
	"context"
	"fmt"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Directory is the read-only identity lookup used to resolve approvers.
type Directory interface {
	// GetUser returns nil, nil when the id is unknown
	GetUser(ctx context.Context, id string) (*entity.User, error)
	UsersWithRole(ctx context.Context, role string) ([]*entity.User, error)
}

// Resolve returns the ordered levels a request of amount must pass.
//
// Level 1 covers [Lower1, Upper1]; level k covers (Upper[k-1], Upper[k]].
// A boundary amount therefore lands on the lower-numbered level. The route
// is levels 1..k for the matched band k. Amounts below Lower1 need no
// approval and yield an empty route.
func Resolve(ctx context.Context, settings *Settings, dir Directory, orgUnit string, categories []string, amount decimal.Decimal) ([]entity.RouteLevel, error) {
	setting, ok := settings.Select(orgUnit, categories)
	if !ok {
		return nil, &apperr.RouteNotFoundError{OrgUnit: orgUnit, Categories: categories}
	}

	levels := MatchBand(setting.Levels, amount)

	var missing []apperr.MissingApprover
	for _, l := range levels {
		reason, err := checkApprover(ctx, dir, l.Approver)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve approver for level %d: %w", l.Level, err)
		}
		if reason != "" {
			missing = append(missing, apperr.MissingApprover{Level: l.Level, Approver: l.Approver, Reason: reason})
		}
	}
	if len(missing) > 0 {
		return nil, &apperr.RouteNotFoundError{OrgUnit: orgUnit, Categories: categories, Missing: missing}
	}

	return entity.CloneRoute(levels), nil
}

// MatchBand returns the prefix of levels up to the band containing amount.
func MatchBand(levels []entity.RouteLevel, amount decimal.Decimal) []entity.RouteLevel {
	if len(levels) == 0 || amount.LessThan(levels[0].LowerBound) {
		return []entity.RouteLevel{}
	}
	for i, l := range levels {
		if l.UpperBound == nil || amount.LessThanOrEqual(*l.UpperBound) {
			return levels[:i+1]
		}
	}
	return levels
}

func checkApprover(ctx context.Context, dir Directory, a entity.Approver) (string, error) {
	switch a.Kind {
	case entity.ApproverIdentity:
		u, err := dir.GetUser(ctx, a.Value)
		if err != nil {
			return "", err
		}
		if u == nil {
			return "identity not found", nil
		}
		if !u.Enabled {
			return "identity disabled", nil
		}
		return "", nil
	case entity.ApproverRole:
		users, err := dir.UsersWithRole(ctx, a.Value)
		if err != nil {
			return "", err
		}
		for _, u := range users {
			if u.Enabled {
				return "", nil
			}
		}
		return "role has no enabled members", nil
	default:
		return "unknown approver kind", nil
	}
}
