package routing

import (
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/workflow"
)

// Settings is an immutable snapshot of the route table and budget toggle.
// A snapshot is loaded once per transition and never mutated afterwards.
type Settings struct {
	version       int64
	budgetControl bool
	routes        []entity.ApprovalRouteSetting
}

// NewSettings copies routes into a new snapshot
func NewSettings(version int64, routes []entity.ApprovalRouteSetting, budgetControl bool) *Settings {
	copied := make([]entity.ApprovalRouteSetting, len(routes))
	for i, r := range routes {
		copied[i] = r.Clone()
	}
	return &Settings{version: version, budgetControl: budgetControl, routes: copied}
}

// Version identifies the snapshot; it changes whenever the table is replaced
func (s *Settings) Version() int64 { return s.version }

// BudgetControl reports whether submissions reserve budget
func (s *Settings) BudgetControl() bool { return s.budgetControl }

// Routes returns a copy of every configured setting
func (s *Settings) Routes() []entity.ApprovalRouteSetting {
	out := make([]entity.ApprovalRouteSetting, len(s.routes))
	for i, r := range s.routes {
		out[i] = r.Clone()
	}
	return out
}

// Select picks the first setting for orgUnit whose categories intersect the
// request's, falling back to the org unit's default setting.
func (s *Settings) Select(orgUnit string, categories []string) (entity.ApprovalRouteSetting, bool) {
	var fallback *entity.ApprovalRouteSetting
	for i := range s.routes {
		r := &s.routes[i]
		if r.OrgUnit != orgUnit {
			continue
		}
		if r.IsDefault() {
			if fallback == nil {
				fallback = r
			}
			continue
		}
		if intersects(r.Categories, categories) {
			return r.Clone(), true
		}
	}
	if fallback != nil {
		return fallback.Clone(), true
	}
	return entity.ApprovalRouteSetting{}, false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// ValidateSetting checks that a setting's bands are contiguous, increasing
// and open-ended at the top.
func ValidateSetting(s entity.ApprovalRouteSetting) error {
	if s.OrgUnit == "" {
		return apperr.Validationf("route setting has no org unit")
	}
	n := len(s.Levels)
	if n == 0 || n > workflow.MaxLevels {
		return apperr.Validationf("route for %s must have 1 to %d levels, got %d", s.OrgUnit, workflow.MaxLevels, n)
	}

	for i, l := range s.Levels {
		if l.Level != i+1 {
			return apperr.Validationf("route for %s: level %d is numbered %d", s.OrgUnit, i+1, l.Level)
		}
		if l.Approver.Kind != entity.ApproverIdentity && l.Approver.Kind != entity.ApproverRole {
			return apperr.Validationf("route for %s: level %d has invalid approver %q", s.OrgUnit, l.Level, l.Approver)
		}
		if l.Approver.Value == "" {
			return apperr.Validationf("route for %s: level %d has an empty approver", s.OrgUnit, l.Level)
		}
		if l.LowerBound.IsNegative() {
			return apperr.Validationf("route for %s: level %d lower bound is negative", s.OrgUnit, l.Level)
		}

		last := i == n-1
		if last && l.UpperBound != nil {
			return apperr.Validationf("route for %s: top level %d must be open-ended", s.OrgUnit, l.Level)
		}
		if !last {
			if l.UpperBound == nil {
				return apperr.Validationf("route for %s: level %d needs an upper bound", s.OrgUnit, l.Level)
			}
			if !l.UpperBound.GreaterThan(l.LowerBound) {
				return apperr.Validationf("route for %s: level %d upper bound %s must exceed lower bound %s",
					s.OrgUnit, l.Level, l.UpperBound, l.LowerBound)
			}
		}
		if i > 0 {
			prev := s.Levels[i-1]
			if !l.LowerBound.Equal(*prev.UpperBound) {
				return apperr.Validationf("route for %s: level %d lower bound %s must equal level %d upper bound %s",
					s.OrgUnit, l.Level, l.LowerBound, prev.Level, prev.UpperBound)
			}
		}
	}
	return nil
}
