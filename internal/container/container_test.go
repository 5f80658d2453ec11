package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/garyjia/spend-approval/internal/application/workflow"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	domainwf "github.com/garyjia/spend-approval/internal/domain/workflow"
	"github.com/garyjia/spend-approval/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSeed = `
routes:
  - org_unit: CC-1
    levels:
      - level: 1
        upper_bound: "5000000"
        approver: identity:mgr
      - level: 2
        lower_bound: "5000000"
        approver: role:cfo
budgets:
  - org_unit: CC-1
    account: opex
    fiscal_period: "2026"
    total: "10000000"
users:
  - id: alice
  - id: mgr
  - id: carol
    roles: [cfo]
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(testSeed), 0o644))

	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "spend.db")
	cfg.SeedFile = seedPath
	cfg.MetricsEnabled = false
	return cfg
}

func TestContainer_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx), "second start is refused")

	health := c.Health(ctx)
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)

	engine := c.Engine()
	req, err := engine.CreateDraft(ctx, workflow.Draft{
		Requester:    "alice",
		OrgUnit:      "CC-1",
		Account:      "opex",
		FiscalPeriod: "2026",
		Amount:       decimal.NewFromInt(6000000),
	})
	require.NoError(t, err)

	req, err = engine.Submit(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingL1, req.WorkflowState)

	req, err = engine.Approve(ctx, req.ID, "mgr")
	require.NoError(t, err)
	req, err = engine.Approve(ctx, req.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, req.Status)

	bal, err := c.Ledger().Available(ctx, req.BudgetKey())
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(4000000)))

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestContainer_SeedTwiceKeepsVersioning(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	res, err := c.Seed(ctx, cfg.SeedFile)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RouteVersion)
}

func TestContainer_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lock.Backend = "zookeeper"
	_, err := NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(nil, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_StartFailsOnBadSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())
}

func TestProvideLocker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	bundle, err := ProvideLocker(ctx, &LockConfig{Backend: "redis", RedisAddr: mr.Addr()}, utils.NewKVLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NotNil(t, bundle.Redis)
	defer bundle.Redis.Close()

	ran := false
	require.NoError(t, bundle.Locker.WithLock(ctx, "spend-request:1", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestProvideLocker_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := ProvideLocker(context.Background(), &LockConfig{Backend: "redis", RedisAddr: addr}, utils.NewKVLogger(zap.NewNop()))
	assert.Error(t, err)
}
