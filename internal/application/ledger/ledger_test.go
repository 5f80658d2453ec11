package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/infrastructure/lock"
	"github.com/garyjia/spend-approval/internal/infrastructure/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type recordedLock struct {
	mu    sync.Mutex
	order []string
	inner *lock.KeyedLocker
}

func (r *recordedLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.order = append(r.order, key)
	r.mu.Unlock()
	return r.inner.WithLock(ctx, key, fn)
}

var engKey = entity.BudgetKey{OrgUnit: "ENG", Account: "opex", FiscalPeriod: "2026"}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func setup(t *testing.T, total int64) (Ledger, *memory.Store, *recordedLock) {
	t.Helper()
	store := memory.NewStore()
	if total >= 0 {
		require.NoError(t, store.Budgets().Upsert(context.Background(), &entity.Budget{Key: engKey, Total: dec(total)}))
	}
	locker := &recordedLock{inner: lock.NewKeyedLocker(time.Second)}
	return NewLedger(store.Budgets(), store.Reservations(), locker, nil, nopLogger{}), store, locker
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	l, store, _ := setup(t, 1000)

	id, err := l.Reserve(ctx, engKey, dec(400), Ref{RequestID: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	res, err := store.Reservations().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationLocked, res.State)
	assert.Equal(t, int64(7), res.RequestID)
	assert.True(t, res.Amount.Equal(dec(400)))

	bal, err := l.Available(ctx, engKey)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(dec(600)))
	assert.True(t, bal.Reserved.Equal(dec(400)))
}

func TestReserve_Exceeded(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t, 1000)

	_, err := l.Reserve(ctx, engKey, dec(700), Ref{RequestID: 1})
	require.NoError(t, err)

	_, err = l.Reserve(ctx, engKey, dec(400), Ref{RequestID: 2})
	var be *apperr.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.True(t, be.Available.Equal(dec(300)))
	assert.True(t, be.Requested.Equal(dec(400)))
	assert.True(t, be.Total.Equal(dec(1000)))
	assert.Equal(t, engKey, be.Key)
}

func TestReserve_ExactlyAvailable(t *testing.T) {
	l, _, _ := setup(t, 500)
	_, err := l.Reserve(context.Background(), engKey, dec(500), Ref{RequestID: 1})
	assert.NoError(t, err)
}

func TestReserve_MissingBudgetIsZero(t *testing.T) {
	l, _, _ := setup(t, -1)
	_, err := l.Reserve(context.Background(), engKey, dec(1), Ref{RequestID: 1})
	var be *apperr.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.True(t, be.Total.IsZero())
}

func TestReserve_RejectsNonPositive(t *testing.T) {
	l, _, _ := setup(t, 100)
	_, err := l.Reserve(context.Background(), engKey, decimal.Zero, Ref{RequestID: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, store, _ := setup(t, 1000)

	id, err := l.Reserve(ctx, engKey, dec(250), Ref{RequestID: 3})
	require.NoError(t, err)

	released, err := l.Release(ctx, id, entity.ReleaseRejected)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = l.Release(ctx, id, entity.ReleaseCancelled)
	require.NoError(t, err)
	assert.False(t, released, "second release is a no-op")

	res, err := store.Reservations().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationReleased, res.State)
	assert.Equal(t, entity.ReleaseRejected, res.ReleaseReason, "first reason wins")
	assert.True(t, res.ReleasedAmount.Equal(res.Amount))

	bal, err := l.Available(ctx, engKey)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(dec(1000)))
}

func TestReleaseAllFor(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t, 1000)

	first, err := l.Reserve(ctx, engKey, dec(100), Ref{RequestID: 9, LineID: 1})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, engKey, dec(200), Ref{RequestID: 9, LineID: 2})
	require.NoError(t, err)
	_, err = l.Reserve(ctx, engKey, dec(50), Ref{RequestID: 10})
	require.NoError(t, err)

	_, err = l.Release(ctx, first, entity.ReleaseRejected)
	require.NoError(t, err)

	released, err := l.ReleaseAllFor(ctx, 9, entity.ReleaseCancelled)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, int64(2), released[0].LineID)

	bal, err := l.Available(ctx, engKey)
	require.NoError(t, err)
	assert.True(t, bal.Reserved.Equal(dec(50)), "other requests keep their reservations")
}

func TestHold_SortedAndReentrant(t *testing.T) {
	ctx := context.Background()
	l, store, locker := setup(t, 1000)
	opsKey := entity.BudgetKey{OrgUnit: "OPS", Account: "opex", FiscalPeriod: "2026"}
	require.NoError(t, store.Budgets().Upsert(ctx, &entity.Budget{Key: opsKey, Total: dec(100)}))

	err := l.Hold(ctx, []entity.BudgetKey{opsKey, engKey, opsKey}, func(ctx context.Context) error {
		if _, err := l.Reserve(ctx, engKey, dec(10), Ref{RequestID: 1}); err != nil {
			return err
		}
		_, err := l.Reserve(ctx, opsKey, dec(10), Ref{RequestID: 1})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"budget:ENG:opex:2026", "budget:OPS:opex:2026"}, locker.order,
		"keys locked once each in sorted order")
}

func TestReserve_ConcurrentNearExhausted(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, exceeded := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := l.Reserve(ctx, engKey, dec(60), Ref{RequestID: int64(n)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else {
				exceeded++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, exceeded)

	bal, err := l.Available(ctx, engKey)
	require.NoError(t, err)
	assert.False(t, bal.Available.IsNegative())
}

func TestBudgetLockKey(t *testing.T) {
	assert.Equal(t, "budget:ENG:opex:2026", BudgetLockKey(engKey))
}
