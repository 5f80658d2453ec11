package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft() *entity.SpendRequest {
	return &entity.SpendRequest{
		Requester:     "alice",
		OrgUnit:       "ENG",
		Account:       "opex",
		FiscalPeriod:  "2026",
		Amount:        decimal.NewFromInt(100),
		WorkflowState: workflow.StateDraft,
		Status:        entity.StatusDraft,
		Lines: []*entity.RequestLine{
			{OrgUnit: "ENG", Amount: decimal.NewFromInt(60), State: workflow.StateDraft},
			{OrgUnit: "OPS", Amount: decimal.NewFromInt(40), State: workflow.StateDraft},
		},
	}
}

func TestRequestRepo_CreateAssignsIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Requests()

	req := draft()
	require.NoError(t, repo.Create(ctx, req))

	assert.Equal(t, int64(1), req.ID)
	assert.Equal(t, int64(1), req.Version)
	assert.NotZero(t, req.Lines[0].ID)
	assert.NotEqual(t, req.Lines[0].ID, req.Lines[1].ID)
	assert.Equal(t, req.ID, req.Lines[1].RequestID)

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	got.Lines[0].Amount = decimal.Zero

	again, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, again.Lines[0].Amount.Equal(decimal.NewFromInt(60)), "reads must not alias stored state")
}

func TestRequestRepo_GetMissing(t *testing.T) {
	_, err := NewStore().Requests().GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequestRepo_UpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Requests()
	req := draft()
	require.NoError(t, repo.Create(ctx, req))

	req.Description = "first"
	require.NoError(t, repo.Update(ctx, req, 1))
	assert.Equal(t, int64(2), req.Version)

	stale := req.Clone()
	stale.Description = "stale"
	err := repo.Update(ctx, stale, 1)

	var cm *apperr.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, int64(1), cm.Expected)
	assert.Equal(t, int64(2), cm.Actual)
}

func TestRequestRepo_RejectsStatusDrift(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Requests()
	req := draft()
	require.NoError(t, repo.Create(ctx, req))

	req.Status = entity.StatusApproved
	err := repo.Update(ctx, req, req.Version)
	assert.ErrorIs(t, err, apperr.ErrStatusWrite)
}

func TestRequestRepo_List(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Requests()
	for i := 0; i < 3; i++ {
		req := draft()
		if i == 2 {
			req.OrgUnit = "OPS"
		}
		require.NoError(t, repo.Create(ctx, req))
	}

	all, err := repo.List(ctx, port.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID, "newest first")

	eng, err := repo.List(ctx, port.RequestFilter{OrgUnit: "ENG", Limit: 1})
	require.NoError(t, err)
	require.Len(t, eng, 1)
	assert.Equal(t, int64(2), eng[0].ID)

	none, err := repo.List(ctx, port.RequestFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")
	key := entity.BudgetKey{OrgUnit: "ENG", Account: "opex", FiscalPeriod: "2026"}

	err := store.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Budgets().Upsert(ctx, &entity.Budget{Key: key, Total: decimal.NewFromInt(10)}))
		require.NoError(t, store.Reservations().Create(ctx, &entity.BudgetReservation{
			ID: "r-1", Key: key, Amount: decimal.NewFromInt(5), State: entity.ReservationLocked,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, err := store.Budgets().Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, b)

	sum, err := store.Reservations().SumLocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestStore_NestedTransactionJoinsOuter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	err := store.WithTransaction(ctx, func(ctx context.Context) error {
		return store.WithTransaction(ctx, func(ctx context.Context) error {
			return store.Directory().UpsertUser(ctx, &entity.User{ID: "bob", Enabled: true})
		})
	})
	require.NoError(t, err)

	u, err := store.Directory().GetUser(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestStore_ReadsOutsideTransactionSeeCommittedState(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	key := entity.BudgetKey{OrgUnit: "ENG", Account: "opex", FiscalPeriod: "2026"}
	require.NoError(t, store.Budgets().Upsert(ctx, &entity.Budget{Key: key, Total: decimal.NewFromInt(10)}))

	written := make(chan struct{})
	outside := make(chan decimal.Decimal)
	done := make(chan error)
	go func() {
		done <- store.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := store.Reservations().Create(txCtx, &entity.BudgetReservation{
				ID: "r-1", Key: key, Amount: decimal.NewFromInt(7), State: entity.ReservationLocked,
			}); err != nil {
				return err
			}
			inside, err := store.Reservations().SumLocked(txCtx, key)
			if err != nil {
				return err
			}
			if !inside.Equal(decimal.NewFromInt(7)) {
				return errors.New("transaction cannot see its own write")
			}
			close(written)
			<-outside
			return errors.New("rolled back")
		})
	}()

	<-written
	sum, err := store.Reservations().SumLocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, sum.IsZero(), "pending reservation leaked: %s", sum)
	outside <- sum

	assert.EqualError(t, <-done, "rolled back")
	sum, err = store.Reservations().SumLocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestReservationRepo_MarkReleasedOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Reservations()
	res := &entity.BudgetReservation{ID: "r-1", Amount: decimal.NewFromInt(5), State: entity.ReservationLocked}
	require.NoError(t, repo.Create(ctx, res))

	stored, err := repo.GetByID(ctx, "r-1")
	require.NoError(t, err)
	require.True(t, stored.Release(entity.ReleaseRejected, stored.LockedAt))

	ok, err := repo.MarkReleased(ctx, stored)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkReleased(ctx, stored)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouteSettingRepo_ReplaceValidates(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().RouteSettings()

	bad := entity.ApprovalRouteSetting{OrgUnit: "ENG"}
	_, err := repo.Replace(ctx, []entity.ApprovalRouteSetting{bad}, true)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	good := entity.ApprovalRouteSetting{
		OrgUnit: "ENG",
		Levels:  []entity.RouteLevel{{Level: 1, LowerBound: decimal.Zero, Approver: entity.Identity("bob")}},
	}
	v, err := repo.Replace(ctx, []entity.ApprovalRouteSetting{good}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version())
	assert.False(t, snap.BudgetControl())
	assert.Len(t, snap.Routes(), 1)
}
