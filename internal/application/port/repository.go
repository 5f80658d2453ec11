package port

import (
	"context"

	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/routing"
	"github.com/shopspring/decimal"
)

// RequestFilter narrows List results. Zero values match everything.
type RequestFilter struct {
	OrgUnit   string
	Requester string
	Status    string
	Limit     int
	Offset    int
}

// RequestRepository defines persistence operations for SpendRequest
type RequestRepository interface {
	// Create inserts the request and its lines, assigning ids and version 1
	Create(ctx context.Context, req *entity.SpendRequest) error

	// GetByID returns a wrapped apperr.ErrNotFound when the request does not exist
	GetByID(ctx context.Context, id int64) (*entity.SpendRequest, error)

	List(ctx context.Context, filter RequestFilter) ([]*entity.SpendRequest, error)

	// Update persists the request only if the stored version equals
	// expectedVersion, then bumps req.Version. The projected status is
	// verified before anything is written.
	Update(ctx context.Context, req *entity.SpendRequest, expectedVersion int64) error
}

// RouteSettingRepository stores the approval route table
type RouteSettingRepository interface {
	// Snapshot loads the whole table as one immutable, versioned value
	Snapshot(ctx context.Context) (*routing.Settings, error)

	// Replace swaps the table atomically and returns the new version
	Replace(ctx context.Context, settings []entity.ApprovalRouteSetting, budgetControl bool) (int64, error)
}

// BudgetRepository stores budget totals
type BudgetRepository interface {
	// Get returns nil, nil when no budget row exists for the key
	Get(ctx context.Context, key entity.BudgetKey) (*entity.Budget, error)
	Upsert(ctx context.Context, budget *entity.Budget) error
	List(ctx context.Context) ([]*entity.Budget, error)
}

// ReservationRepository stores budget reservations
type ReservationRepository interface {
	Create(ctx context.Context, res *entity.BudgetReservation) error
	GetByID(ctx context.Context, id string) (*entity.BudgetReservation, error)

	// SumLocked totals the locked reservations against a key
	SumLocked(ctx context.Context, key entity.BudgetKey) (decimal.Decimal, error)

	// MarkReleased writes the release only if the row is still locked and
	// reports whether it did
	MarkReleased(ctx context.Context, res *entity.BudgetReservation) (bool, error)

	ListByRequest(ctx context.Context, requestID int64) ([]*entity.BudgetReservation, error)
}

// LinkRepository stores lifecycle links to downstream artifacts
type LinkRepository interface {
	Create(ctx context.Context, link *entity.LifecycleLink) error
	GetByID(ctx context.Context, id int64) (*entity.LifecycleLink, error)
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.LifecycleLink, error)
	Update(ctx context.Context, link *entity.LifecycleLink) error
}

// HistoryRepository defines persistence operations for ApprovalHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ApprovalHistory) error
	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error)
}

// DirectoryRepository is the identity directory. It satisfies routing.Directory.
type DirectoryRepository interface {
	routing.Directory
	UpsertUser(ctx context.Context, user *entity.User) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn in one transaction. A transaction already in
	// ctx is reused, so nested calls commit or roll back together.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
