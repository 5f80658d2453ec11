// Package ledger reserves and releases budget against (org unit, account,
// fiscal period) keys. Check-and-insert for a key always runs under that
// key's lock.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Ref names what a reservation is held for
type Ref struct {
	RequestID int64
	LineID    int64
}

// Balance is the state of one key at read time
type Balance struct {
	Key       entity.BudgetKey `json:"key"`
	Total     decimal.Decimal  `json:"total"`
	Reserved  decimal.Decimal  `json:"reserved"`
	Available decimal.Decimal  `json:"available"`
}

// Ledger manages budget reservations
type Ledger interface {
	// Hold takes the locks for keys in sorted order and runs fn with them
	// held. Reserve calls for held keys inside fn skip their own locking,
	// so the reservation and the caller's transaction commit under one lock.
	Hold(ctx context.Context, keys []entity.BudgetKey, fn func(ctx context.Context) error) error

	// Reserve locks amount against key and returns the reservation id.
	// It fails with *apperr.BudgetExceededError when available < amount.
	Reserve(ctx context.Context, key entity.BudgetKey, amount decimal.Decimal, ref Ref) (string, error)

	// Release frees a reservation for its full amount. Releasing an already
	// released reservation is a no-op and reports false.
	Release(ctx context.Context, id string, reason entity.ReleaseReason) (bool, error)

	// ReleaseAllFor releases every locked reservation of a request and
	// returns the ones it released
	ReleaseAllFor(ctx context.Context, requestID int64, reason entity.ReleaseReason) ([]*entity.BudgetReservation, error)

	// Available reports total, reserved and available for key
	Available(ctx context.Context, key entity.BudgetKey) (*Balance, error)
}

type ledgerImpl struct {
	budgets      port.BudgetRepository
	reservations port.ReservationRepository
	locker       port.Locker
	metrics      port.MetricsRecorder
	logger       Logger
	now          func() time.Time
}

// NewLedger creates a new Ledger. metrics may be nil.
func NewLedger(
	budgets port.BudgetRepository,
	reservations port.ReservationRepository,
	locker port.Locker,
	metrics port.MetricsRecorder,
	logger Logger,
) Ledger {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &ledgerImpl{
		budgets:      budgets,
		reservations: reservations,
		locker:       locker,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// BudgetLockKey is the lock name guarding one budget key
func BudgetLockKey(key entity.BudgetKey) string {
	return fmt.Sprintf("budget:%s:%s:%s", key.OrgUnit, key.Account, key.FiscalPeriod)
}

type heldKey struct{}

func heldLocks(ctx context.Context) map[string]bool {
	held, _ := ctx.Value(heldKey{}).(map[string]bool)
	return held
}

func (l *ledgerImpl) Hold(ctx context.Context, keys []entity.BudgetKey, fn func(ctx context.Context) error) error {
	already := heldLocks(ctx)

	seen := make(map[string]bool, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := BudgetLockKey(k)
		if seen[name] || already[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	held := make(map[string]bool, len(already)+len(names))
	for k := range already {
		held[k] = true
	}
	for _, n := range names {
		held[n] = true
	}

	return l.acquire(ctx, names, func(ctx context.Context) error {
		return fn(context.WithValue(ctx, heldKey{}, held))
	})
}

// acquire nests the locks so they are released in reverse order
func (l *ledgerImpl) acquire(ctx context.Context, names []string, fn func(ctx context.Context) error) error {
	if len(names) == 0 {
		return fn(ctx)
	}
	return l.locker.WithLock(ctx, names[0], func(ctx context.Context) error {
		return l.acquire(ctx, names[1:], fn)
	})
}

func (l *ledgerImpl) Reserve(ctx context.Context, key entity.BudgetKey, amount decimal.Decimal, ref Ref) (string, error) {
	if !amount.IsPositive() {
		return "", apperr.Validationf("reservation amount must be positive, got %s", amount)
	}

	var id string
	err := l.Hold(ctx, []entity.BudgetKey{key}, func(ctx context.Context) error {
		bal, err := l.balance(ctx, key)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(amount) {
			l.metrics.ReservationRecorded("exceeded")
			return &apperr.BudgetExceededError{
				Key:       key,
				Requested: amount,
				Available: bal.Available,
				Reserved:  bal.Reserved,
				Total:     bal.Total,
			}
		}

		res := &entity.BudgetReservation{
			ID:             uuid.NewString(),
			Key:            key,
			Amount:         amount,
			RequestID:      ref.RequestID,
			LineID:         ref.LineID,
			State:          entity.ReservationLocked,
			ReleasedAmount: decimal.Zero,
			LockedAt:       l.now(),
		}
		if err := l.reservations.Create(ctx, res); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		id = res.ID

		l.metrics.ReservationRecorded("locked")
		l.metrics.BudgetUtilisation(key, utilisation(bal.Total, bal.Reserved.Add(amount)))
		return nil
	})
	if err != nil {
		return "", err
	}

	l.logger.Info("Budget reserved", "reservation_id", id, "key", key.String(), "amount", amount.String(),
		"request_id", ref.RequestID, "line_id", ref.LineID)
	return id, nil
}

func (l *ledgerImpl) Release(ctx context.Context, id string, reason entity.ReleaseReason) (bool, error) {
	res, err := l.reservations.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return l.release(ctx, res, reason)
}

func (l *ledgerImpl) release(ctx context.Context, res *entity.BudgetReservation, reason entity.ReleaseReason) (bool, error) {
	if !res.Release(reason, l.now()) {
		return false, nil
	}

	released, err := l.reservations.MarkReleased(ctx, res)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation %s: %w", res.ID, err)
	}
	if !released {
		// another writer released it first
		return false, nil
	}

	l.metrics.ReservationRecorded("released_" + string(reason))
	if bal, err := l.balance(ctx, res.Key); err == nil {
		l.metrics.BudgetUtilisation(res.Key, utilisation(bal.Total, bal.Reserved))
	}
	l.logger.Info("Budget released", "reservation_id", res.ID, "key", res.Key.String(),
		"amount", res.Amount.String(), "reason", reason)
	return true, nil
}

func (l *ledgerImpl) ReleaseAllFor(ctx context.Context, requestID int64, reason entity.ReleaseReason) ([]*entity.BudgetReservation, error) {
	all, err := l.reservations.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for request %d: %w", requestID, err)
	}

	var released []*entity.BudgetReservation
	for _, res := range all {
		if !res.IsLocked() {
			continue
		}
		ok, err := l.release(ctx, res, reason)
		if err != nil {
			return nil, err
		}
		if ok {
			released = append(released, res)
		}
	}
	return released, nil
}

func (l *ledgerImpl) Available(ctx context.Context, key entity.BudgetKey) (*Balance, error) {
	return l.balance(ctx, key)
}

func (l *ledgerImpl) balance(ctx context.Context, key entity.BudgetKey) (*Balance, error) {
	total := decimal.Zero
	budget, err := l.budgets.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget %s: %w", key, err)
	}
	if budget != nil {
		total = budget.Total
	}

	reserved, err := l.reservations.SumLocked(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sum reservations for %s: %w", key, err)
	}

	return &Balance{
		Key:       key,
		Total:     total,
		Reserved:  reserved,
		Available: total.Sub(reserved),
	}, nil
}

func utilisation(total, reserved decimal.Decimal) float64 {
	if !total.IsPositive() {
		if reserved.IsPositive() {
			return 1
		}
		return 0
	}
	ratio, _ := reserved.Div(total).Float64()
	return ratio
}
