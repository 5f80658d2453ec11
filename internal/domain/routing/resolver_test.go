package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDirectory struct {
	users map[string]*entity.User
	err   error
}

func newMockDirectory(users ...*entity.User) *mockDirectory {
	d := &mockDirectory{users: make(map[string]*entity.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (m *mockDirectory) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

func (m *mockDirectory) UsersWithRole(ctx context.Context, role string) ([]*entity.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*entity.User
	for _, u := range m.users {
		if u.HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func twoLevelRoute(org string) entity.ApprovalRouteSetting {
	return entity.ApprovalRouteSetting{
		OrgUnit: org,
		Levels: []entity.RouteLevel{
			{Level: 1, LowerBound: dec("0"), UpperBound: decPtr("5000000"), Approver: entity.Identity("l1")},
			{Level: 2, LowerBound: dec("5000000"), Approver: entity.Role("cfo")},
		},
	}
}

func directory() *mockDirectory {
	return newMockDirectory(
		&entity.User{ID: "l1", Enabled: true},
		&entity.User{ID: "l2", Enabled: true, Roles: []string{"cfo"}},
		&entity.User{ID: "req", Enabled: true},
	)
}

func TestResolve_BandSelection(t *testing.T) {
	settings := NewSettings(1, []entity.ApprovalRouteSetting{twoLevelRoute("CC-1")}, true)

	tests := []struct {
		name   string
		amount string
		levels int
	}{
		{"single level", "3000000", 1},
		{"boundary resolves to lower level", "5000000", 1},
		{"just above boundary", "5000000.01", 2},
		{"two levels", "7500000", 2},
		{"zero amount at lower bound", "0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := Resolve(context.Background(), settings, directory(), "CC-1", nil, dec(tt.amount))
			require.NoError(t, err)
			assert.Len(t, route, tt.levels)
			for i, l := range route {
				assert.Equal(t, i+1, l.Level)
			}
		})
	}
}

func TestResolve_BelowLowestBoundAutoApproves(t *testing.T) {
	setting := twoLevelRoute("CC-9")
	setting.Levels[0].LowerBound = dec("100")
	settings := NewSettings(1, []entity.ApprovalRouteSetting{setting}, true)

	route, err := Resolve(context.Background(), settings, directory(), "CC-9", nil, dec("99.99"))
	require.NoError(t, err)
	assert.Empty(t, route)
}

func TestResolve_RouteCarriesBand(t *testing.T) {
	settings := NewSettings(1, []entity.ApprovalRouteSetting{twoLevelRoute("CC-1")}, true)

	route, err := Resolve(context.Background(), settings, directory(), "CC-1", nil, dec("7500000"))
	require.NoError(t, err)
	require.Len(t, route, 2)
	assert.True(t, route[0].UpperBound.Equal(dec("5000000")))
	assert.Nil(t, route[1].UpperBound)
	assert.Equal(t, entity.Role("cfo"), route[1].Approver)

	// the snapshot must not alias the settings
	*route[0].UpperBound = dec("1")
	again, _ := Resolve(context.Background(), settings, directory(), "CC-1", nil, dec("7500000"))
	assert.True(t, again[0].UpperBound.Equal(dec("5000000")))
}

func TestResolve_NoSetting(t *testing.T) {
	settings := NewSettings(1, []entity.ApprovalRouteSetting{twoLevelRoute("CC-1")}, true)

	_, err := Resolve(context.Background(), settings, directory(), "CC-404", []string{"travel"}, dec("10"))

	var rnf *apperr.RouteNotFoundError
	require.True(t, errors.As(err, &rnf))
	assert.Equal(t, "CC-404", rnf.OrgUnit)
	assert.Empty(t, rnf.Missing)
	assert.Contains(t, err.Error(), "CC-404")
}

func TestResolve_CategorySelection(t *testing.T) {
	travel := entity.ApprovalRouteSetting{
		OrgUnit:    "CC-1",
		Categories: []string{"travel"},
		Levels: []entity.RouteLevel{
			{Level: 1, LowerBound: dec("0"), Approver: entity.Identity("l2")},
		},
	}
	settings := NewSettings(1, []entity.ApprovalRouteSetting{twoLevelRoute("CC-1"), travel}, true)

	route, err := Resolve(context.Background(), settings, directory(), "CC-1", []string{"travel", "meals"}, dec("10"))
	require.NoError(t, err)
	require.Len(t, route, 1)
	assert.Equal(t, entity.Identity("l2"), route[0].Approver)

	route, err = Resolve(context.Background(), settings, directory(), "CC-1", []string{"equipment"}, dec("10"))
	require.NoError(t, err)
	assert.Equal(t, entity.Identity("l1"), route[0].Approver)
}

func TestResolve_MissingApproversAreAllNamed(t *testing.T) {
	settings := NewSettings(1, []entity.ApprovalRouteSetting{twoLevelRoute("CC-1")}, true)
	dir := newMockDirectory(&entity.User{ID: "l1", Enabled: false})

	_, err := Resolve(context.Background(), settings, dir, "CC-1", nil, dec("7500000"))

	var rnf *apperr.RouteNotFoundError
	require.True(t, errors.As(err, &rnf))
	require.Len(t, rnf.Missing, 2)
	assert.Equal(t, 1, rnf.Missing[0].Level)
	assert.Equal(t, "identity disabled", rnf.Missing[0].Reason)
	assert.Equal(t, 2, rnf.Missing[1].Level)
	assert.Equal(t, entity.Role("cfo"), rnf.Missing[1].Approver)
	assert.Contains(t, err.Error(), "role:cfo")
}

func TestResolve_DirectoryFailure(t *testing.T) {
	settings := NewSettings(1, []entity.ApprovalRouteSetting{twoLevelRoute("CC-1")}, true)
	dir := &mockDirectory{err: errors.New("directory down")}

	_, err := Resolve(context.Background(), settings, dir, "CC-1", nil, dec("1"))
	require.Error(t, err)

	var rnf *apperr.RouteNotFoundError
	assert.False(t, errors.As(err, &rnf))
}

func TestValidateSetting(t *testing.T) {
	valid := twoLevelRoute("CC-1")
	require.NoError(t, ValidateSetting(valid))

	gap := twoLevelRoute("CC-1")
	gap.Levels[1].LowerBound = dec("6000000")

	closedTop := twoLevelRoute("CC-1")
	closedTop.Levels[1].UpperBound = decPtr("9000000")

	inverted := twoLevelRoute("CC-1")
	inverted.Levels[0].UpperBound = decPtr("0")
	inverted.Levels[1].LowerBound = dec("0")

	tooMany := twoLevelRoute("CC-1")
	tooMany.Levels = append(tooMany.Levels,
		entity.RouteLevel{Level: 3, LowerBound: dec("1"), Approver: entity.Identity("x")},
		entity.RouteLevel{Level: 4, LowerBound: dec("2"), Approver: entity.Identity("y")},
	)

	noApprover := twoLevelRoute("CC-1")
	noApprover.Levels[0].Approver = entity.Approver{}

	tests := map[string]entity.ApprovalRouteSetting{
		"gap between bands":   gap,
		"closed top level":    closedTop,
		"non increasing band": inverted,
		"too many levels":     tooMany,
		"missing approver":    noApprover,
		"missing org unit":    {Levels: valid.Levels},
	}

	for name, setting := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateSetting(setting), apperr.ErrValidation)
		})
	}
}

func TestAuthorize(t *testing.T) {
	dir := newMockDirectory(
		&entity.User{ID: "l1", Enabled: true},
		&entity.User{ID: "cfo-1", Enabled: true, Roles: []string{"cfo"}},
		&entity.User{ID: "cfo-2", Enabled: false, Roles: []string{"cfo"}},
		&entity.User{ID: "other", Enabled: true},
	)
	identityLevel := entity.RouteLevel{Level: 1, Approver: entity.Identity("l1")}
	roleLevel := entity.RouteLevel{Level: 2, Approver: entity.Role("cfo")}

	tests := []struct {
		name      string
		level     entity.RouteLevel
		actor     string
		requester string
		reason    string
	}{
		{"identity match", identityLevel, "l1", "req", ""},
		{"role member", roleLevel, "cfo-1", "req", ""},
		{"wrong identity", identityLevel, "other", "req", "actor is not the level approver"},
		{"not in role", roleLevel, "other", "req", "actor does not hold the level role"},
		{"disabled role member", roleLevel, "cfo-2", "req", "actor is disabled"},
		{"self approval", identityLevel, "l1", "l1", "requester cannot approve their own request"},
		{"unknown actor", identityLevel, "ghost", "req", "actor not found in directory"},
		{"empty actor", identityLevel, "", "req", "actor is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(context.Background(), dir, tt.level, tt.actor, tt.requester)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var authErr *apperr.AuthorizationError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.reason, authErr.Reason)
			assert.Equal(t, tt.level.Level, authErr.Level)
			assert.Equal(t, tt.level.Approver, authErr.Expected)
		})
	}
}
