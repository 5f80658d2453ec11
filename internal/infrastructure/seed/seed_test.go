package seed

import (
	"context"
	"testing"

	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/infrastructure/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
budget_control: false
routes:
  - org_unit: CC-1
    levels:
      - level: 1
        lower_bound: "0"
        upper_bound: "5000000"
        approver: identity:l1
      - level: 2
        lower_bound: "5000000"
        approver: role:cfo
  - org_unit: CC-1
    categories: [travel]
    levels:
      - level: 1
        approver: identity:travel-desk
budgets:
  - org_unit: CC-1
    account: opex
    fiscal_period: "2026"
    total: "10000000.50"
users:
  - id: l1
    name: Level One
  - id: carol
    roles: [cfo]
  - id: dave
    enabled: false
    roles: [cfo]
`

func TestParseAndApply(t *testing.T) {
	ctx := context.Background()
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	store := memory.NewStore()
	res, err := Apply(ctx, Stores{Routes: store.RouteSettings(), Budgets: store.Budgets(), Directory: store.Directory()}, f, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Routes)
	assert.Equal(t, 1, res.Budgets)
	assert.Equal(t, 3, res.Users)
	assert.Equal(t, int64(1), res.RouteVersion)

	snap, err := store.RouteSettings().Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.BudgetControl())

	def, ok := snap.Select("CC-1", nil)
	require.True(t, ok)
	require.Len(t, def.Levels, 2)
	assert.True(t, def.Levels[0].UpperBound.Equal(decimal.NewFromInt(5000000)))
	assert.Nil(t, def.Levels[1].UpperBound)
	assert.Equal(t, entity.Role("cfo"), def.Levels[1].Approver)

	travel, ok := snap.Select("CC-1", []string{"travel"})
	require.True(t, ok)
	assert.Equal(t, entity.Identity("travel-desk"), travel.Levels[0].Approver)
	assert.True(t, travel.Levels[0].LowerBound.IsZero())

	b, err := store.Budgets().Get(ctx, entity.BudgetKey{OrgUnit: "CC-1", Account: "opex", FiscalPeriod: "2026"})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "10000000.5", b.Total.String())

	l1, err := store.Directory().GetUser(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, l1.Enabled)
	dave, err := store.Directory().GetUser(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, dave.Enabled)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("routs: []\n"))
	assert.Error(t, err)
}

func TestSettingsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad approver", "routes:\n  - org_unit: A\n    levels:\n      - level: 1\n        approver: boss\n"},
		{"bad amount", "routes:\n  - org_unit: A\n    levels:\n      - level: 1\n        lower_bound: ten\n        approver: identity:x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = f.Settings()
			assert.Error(t, err)
		})
	}
}

func TestApplyBudgetControlOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	stores := Stores{Routes: store.RouteSettings(), Budgets: store.Budgets(), Directory: store.Directory()}

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	_, err = Apply(ctx, stores, f, true)
	require.NoError(t, err)

	on := true
	res, err := Apply(ctx, stores, &File{BudgetControl: &on}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Routes, "existing routes are kept")

	snap, err := store.RouteSettings().Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.BudgetControl())
	assert.Equal(t, int64(2), snap.Version())
}
