package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/spend-approval/internal/application/cascade"
	"github.com/garyjia/spend-approval/internal/application/dispatcher"
	"github.com/garyjia/spend-approval/internal/application/ledger"
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/event"
	"github.com/garyjia/spend-approval/internal/domain/projection"
	"github.com/garyjia/spend-approval/internal/domain/routing"
	domainwf "github.com/garyjia/spend-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Deps are the collaborators the engine is built from
type Deps struct {
	Requests     port.RequestRepository
	Settings     port.RouteSettingRepository
	Directory    routing.Directory
	History      port.HistoryRepository
	Links        port.LinkRepository
	Reservations port.ReservationRepository
	TxManager    port.TransactionManager
	Locker       port.Locker
	Ledger       ledger.Ledger
	Guard        cascade.Guard
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	requests     port.RequestRepository
	settings     port.RouteSettingRepository
	directory    routing.Directory
	history      port.HistoryRepository
	links        port.LinkRepository
	reservations port.ReservationRepository
	txManager    port.TransactionManager
	locker       port.Locker
	ledger       ledger.Ledger
	guard        cascade.Guard

	definition *domainwf.Definition
	publisher  dispatcher.Publisher
	metrics    port.MetricsRecorder
	logger     Logger
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the publisher for domain events
func WithDispatcher(p dispatcher.Publisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m port.MetricsRecorder) EngineOption {
	return func(e *engineImpl) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(deps Deps, opts ...EngineOption) Engine {
	e := &engineImpl{
		requests:     deps.Requests,
		settings:     deps.Settings,
		directory:    deps.Directory,
		history:      deps.History,
		links:        deps.Links,
		reservations: deps.Reservations,
		txManager:    deps.TxManager,
		locker:       deps.Locker,
		ledger:       deps.Ledger,
		guard:        deps.Guard,
		definition:   BuildSpendDefinition(),
		metrics:      port.NopMetrics{},
		logger:       nopLogger{},
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// RequestLockKey is the lock name serializing transitions of one request
func RequestLockKey(id int64) string {
	return fmt.Sprintf("spend-request:%d", id)
}

// operation describes one transition request
type operation struct {
	trigger domainwf.Trigger
	opts    options

	// skip reports that the request already is where the caller wants it
	skip func(req *entity.SpendRequest) bool

	// plan mutates the loaded request and decides the target state
	plan func(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings) (*step, error)
}

// step is what plan decided for one transition
type step struct {
	target domainwf.State
	actor  string
	lineID int64
	data   map[string]interface{}

	// budgetKeys are locked, in sorted order, around the whole transaction
	budgetKeys []entity.BudgetKey

	// apply runs inside the transaction before the request is written
	apply func(ctx context.Context) error

	// commit replaces the plain transaction, e.g. with the cascade guard
	commit func(ctx context.Context, work func(ctx context.Context) error) error

	events []*event.Event
}

func (e *engineImpl) run(ctx context.Context, id int64, op operation) (*entity.SpendRequest, error) {
	observed := op.opts.version
	if !op.opts.hasVersion {
		current, err := e.requests.GetByID(ctx, id)
		if err != nil {
			return nil, e.fail(op.trigger, err)
		}
		observed = current.Version
	}

	var (
		result *entity.SpendRequest
		tr     domainwf.Transition
		st     *step
	)

	err := e.locker.WithLock(ctx, RequestLockKey(id), func(ctx context.Context) error {
		req, err := e.requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.Version != observed {
			return &apperr.ConcurrentModificationError{
				RequestID: id,
				Expected:  observed,
				Actual:    req.Version,
				Reason:    "request changed since it was read",
			}
		}

		if op.skip != nil && op.skip(req) {
			result = req
			return nil
		}

		machine, err := e.definition.Machine(req.WorkflowState)
		if err != nil {
			return err
		}
		if !machine.CanFire(op.trigger) {
			return fmt.Errorf("%w: cannot %s request %d in state %s",
				domainwf.ErrInvalidTransition, op.trigger, id, req.WorkflowState)
		}

		settings, err := e.settings.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load route settings: %w", err)
		}

		previousStatus := req.Status
		st, err = op.plan(ctx, req, settings)
		if err != nil {
			return err
		}

		tr, err = machine.Fire(domainwf.WithTarget(ctx, st.target), op.trigger)
		if err != nil {
			return err
		}
		req.WorkflowState = tr.To
		projection.Apply(req)

		expected := req.Version
		work := func(ctx context.Context) error {
			if st.apply != nil {
				if err := st.apply(ctx); err != nil {
					return err
				}
			}
			if err := e.requests.Update(ctx, req, expected); err != nil {
				return err
			}
			return e.history.Create(ctx, e.historyRow(req, tr, previousStatus, st))
		}

		commit := st.commit
		if commit == nil {
			commit = e.txManager.WithTransaction
		}
		if len(st.budgetKeys) > 0 {
			err = e.ledger.Hold(ctx, st.budgetKeys, func(ctx context.Context) error {
				return commit(ctx, work)
			})
		} else {
			err = commit(ctx, work)
		}
		if err != nil {
			return err
		}

		result = req
		return nil
	})
	if err != nil {
		return nil, e.fail(op.trigger, lockConflict(id, observed, err))
	}

	if st == nil {
		// skipped, nothing changed
		return result, nil
	}

	e.metrics.TransitionRecorded(op.trigger.String(), tr.From.String(), tr.To.String())
	e.logger.Info("Transition committed", "request_id", id, "trigger", op.trigger, "from", tr.From, "to", tr.To,
		"status", result.Status, "version", result.Version, "actor", st.actor)
	e.publish(ctx, result, tr, st)

	return result, nil
}

func (e *engineImpl) historyRow(req *entity.SpendRequest, tr domainwf.Transition, previousStatus string, st *step) *entity.ApprovalHistory {
	data := ""
	if len(st.data) > 0 {
		if raw, err := json.Marshal(st.data); err == nil {
			data = string(raw)
		}
	}
	return &entity.ApprovalHistory{
		RequestID:      req.ID,
		LineID:         st.lineID,
		Actor:          st.actor,
		PreviousState:  tr.From.String(),
		NewState:       tr.To.String(),
		PreviousStatus: previousStatus,
		NewStatus:      req.Status,
		ActionType:     tr.Trigger.String(),
		ActionData:     data,
		Timestamp:      e.now(),
	}
}

var triggerEvents = map[domainwf.Trigger]event.Type{
	domainwf.TriggerSubmit:  event.TypeRequestSubmitted,
	domainwf.TriggerApprove: event.TypeLevelApproved,
	domainwf.TriggerReject:  event.TypeRequestRejected,
	domainwf.TriggerCancel:  event.TypeRequestCancelled,
	domainwf.TriggerReopen:  event.TypeRequestReopened,
}

func (e *engineImpl) publish(ctx context.Context, req *entity.SpendRequest, tr domainwf.Transition, st *step) {
	if e.publisher == nil {
		return
	}

	evt := event.NewEvent(triggerEvents[tr.Trigger], req.ID, st.actor, st.data)
	e.publisher.DispatchAsync(ctx, evt)
	e.publisher.DispatchAsync(ctx, evt.Follow(event.TypeStatusChanged, map[string]interface{}{
		"previous_state": tr.From.String(),
		"new_state":      tr.To.String(),
		"status":         req.Status,
		"trigger":        tr.Trigger.String(),
		"version":        req.Version,
	}))
	for _, follow := range st.events {
		follow.CorrelationID = evt.CorrelationID
		e.publisher.DispatchAsync(ctx, follow)
	}
}

func (e *engineImpl) fail(trigger domainwf.Trigger, err error) error {
	e.metrics.TransitionFailed(trigger.String(), Classify(err))
	e.logger.Error("Transition failed", "trigger", trigger, "error", err)
	return err
}

// lockConflict turns a contended request lock into a retryable conflict
func lockConflict(id, observed int64, err error) error {
	if errors.Is(err, port.ErrLockNotAcquired) {
		return &apperr.ConcurrentModificationError{
			RequestID: id,
			Expected:  observed,
			Actual:    observed,
			Reason:    "another transition holds the request lock",
		}
	}
	return err
}

// Error families returned by Classify
const (
	FamilyRouteNotFound     = "route_not_found"
	FamilyUnauthorized      = "unauthorized"
	FamilyBudgetExceeded    = "budget_exceeded"
	FamilyLifecycleBlocked  = "lifecycle_blocked"
	FamilyCascadeAborted    = "cascade_aborted"
	FamilyConflict          = "conflict"
	FamilyLockTimeout       = "lock_timeout"
	FamilyInvalidTransition = "invalid_transition"
	FamilyNotFound          = "not_found"
	FamilyValidation        = "validation"
	FamilyStatusWrite       = "status_write"
	FamilyInternal          = "error"
)

// Classify names the error family for metrics, logs and the HTTP layer.
// Typed errors are matched before sentinels since a cascade abort wraps
// its cause.
func Classify(err error) string {
	var (
		routeErr   *apperr.RouteNotFoundError
		authErr    *apperr.AuthorizationError
		budgetErr  *apperr.BudgetExceededError
		blockedErr *apperr.LifecycleBlockedError
		cascadeErr *apperr.CascadeAbortedError
		cmErr      *apperr.ConcurrentModificationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &routeErr):
		return FamilyRouteNotFound
	case errors.As(err, &authErr):
		return FamilyUnauthorized
	case errors.As(err, &budgetErr):
		return FamilyBudgetExceeded
	case errors.As(err, &blockedErr):
		return FamilyLifecycleBlocked
	case errors.As(err, &cascadeErr):
		return FamilyCascadeAborted
	case errors.As(err, &cmErr):
		return FamilyConflict
	case errors.Is(err, port.ErrLockNotAcquired):
		return FamilyLockTimeout
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrGuardFailed):
		return FamilyInvalidTransition
	case errors.Is(err, apperr.ErrNotFound):
		return FamilyNotFound
	case errors.Is(err, apperr.ErrValidation):
		return FamilyValidation
	case errors.Is(err, apperr.ErrStatusWrite):
		return FamilyStatusWrite
	default:
		return FamilyInternal
	}
}
