package port

import (
	"context"
	"errors"

	"github.com/garyjia/spend-approval/internal/domain/entity"
)

// ErrLockNotAcquired is returned when a keyed lock could not be taken in time
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker serializes work per key across every writer of the store
type Locker interface {
	// WithLock runs fn while holding key. It returns ErrLockNotAcquired
	// (possibly wrapped) when the lock is contended past its retry budget.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ArtifactGateway reaches the collaborators that own downstream documents.
// Cancellation is two-phase: every live artifact is prepared before any
// link changes, and each prepared artifact later sees exactly one of
// CommitCancel or AbortCancel.
type ArtifactGateway interface {
	// PrepareCancel asks the owner whether the document may be cancelled.
	// An error vetoes the cascade. Nothing is cancelled yet.
	PrepareCancel(ctx context.Context, link *entity.LifecycleLink) error

	// CommitCancel tells the owner to cancel a prepared document. It runs
	// after the cascade's transaction has committed.
	CommitCancel(ctx context.Context, link *entity.LifecycleLink) error

	// AbortCancel releases a prepared document when the cascade fails
	AbortCancel(ctx context.Context, link *entity.LifecycleLink) error
}

// MetricsRecorder receives engine outcomes. Implementations must not block.
type MetricsRecorder interface {
	TransitionRecorded(trigger, from, to string)
	TransitionFailed(trigger, reason string)
	ReservationRecorded(outcome string)
	CascadeRecorded(mode, outcome string)
	BudgetUtilisation(key entity.BudgetKey, ratio float64)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) TransitionRecorded(trigger, from, to string)           {}
func (NopMetrics) TransitionFailed(trigger, reason string)               {}
func (NopMetrics) ReservationRecorded(outcome string)                    {}
func (NopMetrics) CascadeRecorded(mode, outcome string)                  {}
func (NopMetrics) BudgetUtilisation(key entity.BudgetKey, ratio float64) {}
