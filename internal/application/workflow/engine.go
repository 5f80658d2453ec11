package workflow

import (
	"context"

	"github.com/garyjia/spend-approval/internal/application/ledger"
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Engine drives spend requests through submission, approval levels,
// rejection, cancellation and reopening. Every transition re-reads the
// request under its lock and persists with an optimistic version check.
type Engine interface {
	// CreateDraft stores a new request in DRAFT
	CreateDraft(ctx context.Context, d Draft) (*entity.SpendRequest, error)

	// UpdateDraft replaces the editable fields of a DRAFT request
	UpdateDraft(ctx context.Context, id int64, d Draft, opts ...Option) (*entity.SpendRequest, error)

	// Submit resolves the route, reserves budget and starts approval
	Submit(ctx context.Context, id int64, opts ...Option) (*entity.SpendRequest, error)

	// Approve records actor's approval of the current level
	Approve(ctx context.Context, id int64, actor string, opts ...Option) (*entity.SpendRequest, error)

	// Reject records actor's rejection and releases every reservation
	Reject(ctx context.Context, id int64, actor, reason string, opts ...Option) (*entity.SpendRequest, error)

	// Cancel soft-cancels the request through the cascade guard
	Cancel(ctx context.Context, id int64, mode entity.CancelMode, opts ...Option) (*entity.SpendRequest, error)

	// Reopen returns a rejected request to DRAFT
	Reopen(ctx context.Context, id int64, opts ...Option) (*entity.SpendRequest, error)

	// RecordArtifact links a downstream document to an approved request
	RecordArtifact(ctx context.Context, id int64, report ArtifactReport) (*entity.LifecycleLink, error)

	// UpdateArtifactState applies a collaborator's report about a linked document
	UpdateArtifactState(ctx context.Context, linkID int64, update ArtifactUpdate) (*entity.LifecycleLink, error)

	Get(ctx context.Context, id int64) (*entity.SpendRequest, error)
	List(ctx context.Context, filter port.RequestFilter) ([]*entity.SpendRequest, error)
	History(ctx context.Context, id int64) ([]*entity.ApprovalHistory, error)
	Links(ctx context.Context, id int64) ([]*entity.LifecycleLink, error)
	Reservations(ctx context.Context, id int64) ([]*entity.BudgetReservation, error)
	Balance(ctx context.Context, key entity.BudgetKey) (*ledger.Balance, error)
}

// Draft is the editable part of a request
type Draft struct {
	Requester    string          `json:"requester"`
	OrgUnit      string          `json:"org_unit"`
	Account      string          `json:"account"`
	FiscalPeriod string          `json:"fiscal_period"`
	Categories   []string        `json:"categories"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	Lines        []DraftLine     `json:"lines"`
}

// DraftLine is one target of a multi-target draft
type DraftLine struct {
	OrgUnit     string          `json:"org_unit"`
	Account     string          `json:"account"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ArtifactReport announces a downstream document created from a request
type ArtifactReport struct {
	Kind       entity.ArtifactKind  `json:"kind"`
	ArtifactID string               `json:"artifact_id"`
	Name       string               `json:"name"`
	State      entity.ArtifactState `json:"state"`
}

// ArtifactUpdate changes a linked document's state or lock. Nil fields are left alone.
type ArtifactUpdate struct {
	State      *entity.ArtifactState `json:"state,omitempty"`
	Locked     *bool                 `json:"locked,omitempty"`
	LockReason string                `json:"lock_reason,omitempty"`
}

type options struct {
	version    int64
	hasVersion bool
	lineID     int64
	actor      string
}

// Option tunes a single engine call
type Option func(*options)

// ExpectVersion fails the call with *apperr.ConcurrentModificationError
// when the stored request is no longer at version v
func ExpectVersion(v int64) Option {
	return func(o *options) {
		o.version = v
		o.hasVersion = true
	}
}

// ForLine limits an approval or rejection to one line of a multi-target request
func ForLine(lineID int64) Option {
	return func(o *options) {
		o.lineID = lineID
	}
}

// WithActor names who triggered submit, cancel or reopen in the audit trail
func WithActor(actor string) Option {
	return func(o *options) {
		o.actor = actor
	}
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
