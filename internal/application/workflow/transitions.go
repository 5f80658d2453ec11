package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/spend-approval/internal/application/ledger"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/event"
	"github.com/garyjia/spend-approval/internal/domain/projection"
	"github.com/garyjia/spend-approval/internal/domain/routing"
	domainwf "github.com/garyjia/spend-approval/internal/domain/workflow"
	"github.com/garyjia/spend-approval/pkg/utils"
)

func (e *engineImpl) Submit(ctx context.Context, id int64, opts ...Option) (*entity.SpendRequest, error) {
	o := collect(opts)
	return e.run(ctx, id, operation{
		trigger: domainwf.TriggerSubmit,
		opts:    o,
		plan: func(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings) (*step, error) {
			return e.planSubmit(ctx, req, settings, actorOr(o.actor, req.Requester))
		},
	})
}

func (e *engineImpl) planSubmit(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings, actor string) (*step, error) {
	now := e.now()
	if req.FiscalPeriod == "" {
		req.FiscalPeriod = fmt.Sprintf("%04d", now.Year())
	}
	req.RouteVersion = settings.Version()
	req.Decisions = nil
	req.SubmittedAt = &now

	st := &step{actor: actor, data: map[string]interface{}{"route_version": settings.Version()}}

	if !req.IsMultiLine() {
		route, err := routing.Resolve(ctx, settings, e.directory, req.OrgUnit, req.Categories, req.Amount)
		if err != nil {
			return nil, err
		}
		req.Route = route
		req.CurrentLevel, st.target = firstLevel(route)
		st.data["levels"] = len(route)
	} else {
		for _, l := range req.Lines {
			route, err := routing.Resolve(ctx, settings, e.directory, l.OrgUnit, req.Categories, l.Amount)
			if err != nil {
				var rnf *apperr.RouteNotFoundError
				if errors.As(err, &rnf) {
					rnf.LineID = l.ID
				}
				return nil, err
			}
			l.Route = route
			l.Decisions = nil
			l.CurrentLevel, l.State = firstLevel(route)
		}
		st.target = projection.Aggregate(req.LineStates())
		req.CurrentLevel = maxLineLevel(req)
		st.data["lines"] = len(req.Lines)
	}

	if settings.BudgetControl() {
		st.budgetKeys = budgetKeys(req)
		st.apply = func(ctx context.Context) error {
			return e.reserveAll(ctx, req, st)
		}
	}
	return st, nil
}

// reserveAll reserves every target of the request. It runs inside the
// submit transaction, so one failure undoes the reservations before it.
func (e *engineImpl) reserveAll(ctx context.Context, req *entity.SpendRequest, st *step) error {
	if !req.IsMultiLine() {
		id, err := e.ledger.Reserve(ctx, req.BudgetKey(), req.Amount, ledger.Ref{RequestID: req.ID})
		if err != nil {
			return err
		}
		req.ReservationID = id
		st.events = append(st.events, reservationEvent(event.TypeReservationLocked, req.ID, 0, id, req.BudgetKey(), req.Amount.String()))
		return nil
	}

	for _, l := range req.Lines {
		key := req.LineBudgetKey(l)
		id, err := e.ledger.Reserve(ctx, key, l.Amount, ledger.Ref{RequestID: req.ID, LineID: l.ID})
		if err != nil {
			return err
		}
		l.ReservationID = id
		st.events = append(st.events, reservationEvent(event.TypeReservationLocked, req.ID, l.ID, id, key, l.Amount.String()))
	}
	return nil
}

func (e *engineImpl) Approve(ctx context.Context, id int64, actor string, opts ...Option) (*entity.SpendRequest, error) {
	o := collect(opts)
	return e.run(ctx, id, operation{
		trigger: domainwf.TriggerApprove,
		opts:    o,
		plan: func(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings) (*step, error) {
			return e.decide(ctx, req, actor, o.lineID, func(route []entity.RouteLevel, level int, decisions *[]entity.LevelDecision) (int, domainwf.State) {
				now := e.now()
				d := entity.Decision(decisions, level, route[level-1].Approver)
				d.ApprovedBy = actor
				d.ApprovedAt = &now

				if level < len(route) {
					next, _ := domainwf.PendingState(level + 1)
					return level + 1, next
				}
				return 0, domainwf.StateApproved
			})
		},
	})
}

func (e *engineImpl) Reject(ctx context.Context, id int64, actor, reason string, opts ...Option) (*entity.SpendRequest, error) {
	o := collect(opts)
	reason = utils.SanitizeString(reason)
	return e.run(ctx, id, operation{
		trigger: domainwf.TriggerReject,
		opts:    o,
		plan: func(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings) (*step, error) {
			if reason == "" {
				return nil, apperr.Validationf("a rejection reason is required")
			}
			st, err := e.decide(ctx, req, actor, o.lineID, func(route []entity.RouteLevel, level int, decisions *[]entity.LevelDecision) (int, domainwf.State) {
				now := e.now()
				d := entity.Decision(decisions, level, route[level-1].Approver)
				d.RejectedBy = actor
				d.RejectedAt = &now
				d.Reason = reason
				return level, domainwf.StateRejected
			})
			if err != nil {
				return nil, err
			}
			st.target = domainwf.StateRejected
			st.data["reason"] = reason
			st.apply = func(ctx context.Context) error {
				return e.releaseAll(ctx, req.ID, entity.ReleaseRejected, st)
			}
			return st, nil
		},
	})
}

// advanceFunc records a decision at level and returns the new current
// level and state of the request or line it was applied to
type advanceFunc func(route []entity.RouteLevel, level int, decisions *[]entity.LevelDecision) (int, domainwf.State)

// decide authorizes actor against the current level and applies advance.
// For multi-target requests it acts on every pending line the actor may
// decide, or only on lineID when set.
func (e *engineImpl) decide(ctx context.Context, req *entity.SpendRequest, actor string, lineID int64, advance advanceFunc) (*step, error) {
	st := &step{actor: actor, data: map[string]interface{}{}}

	if !req.IsMultiLine() {
		if lineID != 0 {
			return nil, apperr.Validationf("request %d has no lines", req.ID)
		}
		level := req.CurrentLevel
		if level < 1 || level > len(req.Route) {
			return nil, fmt.Errorf("%w: request %d has no pending level", domainwf.ErrInvalidTransition, req.ID)
		}
		if err := e.authorize(ctx, req, 0, req.Route[level-1], actor); err != nil {
			return nil, err
		}
		req.CurrentLevel, st.target = advance(req.Route, level, &req.Decisions)
		st.data["level"] = level
		return st, nil
	}

	var (
		decided []int64
		denied  error
	)
	for _, l := range req.Lines {
		if lineID != 0 && l.ID != lineID {
			continue
		}
		if !l.State.IsPending() {
			if lineID != 0 {
				return nil, fmt.Errorf("%w: line %d is %s", domainwf.ErrInvalidTransition, l.ID, l.State)
			}
			continue
		}
		level := l.CurrentLevel
		if err := e.authorize(ctx, req, l.ID, l.Route[level-1], actor); err != nil {
			var authErr *apperr.AuthorizationError
			if !errors.As(err, &authErr) || lineID != 0 {
				return nil, err
			}
			if denied == nil {
				denied = err
			}
			continue
		}
		l.CurrentLevel, l.State = advance(l.Route, level, &l.Decisions)
		decided = append(decided, l.ID)
	}

	if len(decided) == 0 {
		if denied != nil {
			return nil, denied
		}
		if lineID != 0 {
			return nil, apperr.NotFoundf("line %d on request %d", lineID, req.ID)
		}
		return nil, fmt.Errorf("%w: request %d has no pending lines", domainwf.ErrInvalidTransition, req.ID)
	}

	req.CurrentLevel = maxLineLevel(req)
	st.target = projection.Aggregate(req.LineStates())
	st.data["lines"] = decided
	if len(decided) == 1 {
		st.lineID = decided[0]
	}
	return st, nil
}

func (e *engineImpl) authorize(ctx context.Context, req *entity.SpendRequest, lineID int64, level entity.RouteLevel, actor string) error {
	err := routing.Authorize(ctx, e.directory, level, actor, req.Requester)
	var authErr *apperr.AuthorizationError
	if errors.As(err, &authErr) {
		authErr.RequestID = req.ID
		authErr.LineID = lineID
	}
	return err
}

func (e *engineImpl) Cancel(ctx context.Context, id int64, mode entity.CancelMode, opts ...Option) (*entity.SpendRequest, error) {
	o := collect(opts)
	if !mode.IsValid() {
		return nil, e.fail(domainwf.TriggerCancel, apperr.Validationf("unknown cancel mode %q", mode))
	}
	return e.run(ctx, id, operation{
		trigger: domainwf.TriggerCancel,
		opts:    o,
		skip: func(req *entity.SpendRequest) bool {
			return req.WorkflowState == domainwf.StateCancelled
		},
		plan: func(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings) (*step, error) {
			now := e.now()
			req.CancelledAt = &now

			st := &step{
				target: domainwf.StateCancelled,
				actor:  actorOr(o.actor, entity.SystemActor),
				data:   map[string]interface{}{"mode": string(mode)},
			}
			st.apply = func(ctx context.Context) error {
				return e.releaseAll(ctx, req.ID, entity.ReleaseCancelled, st)
			}
			st.commit = func(ctx context.Context, work func(ctx context.Context) error) error {
				return e.guard.Cancel(ctx, req, mode, work)
			}
			return st, nil
		},
	})
}

func (e *engineImpl) Reopen(ctx context.Context, id int64, opts ...Option) (*entity.SpendRequest, error) {
	o := collect(opts)
	return e.run(ctx, id, operation{
		trigger: domainwf.TriggerReopen,
		opts:    o,
		plan: func(ctx context.Context, req *entity.SpendRequest, settings *routing.Settings) (*step, error) {
			req.Route = nil
			req.RouteVersion = 0
			req.Decisions = nil
			req.CurrentLevel = 0
			req.ReservationID = ""
			req.SubmittedAt = nil
			for _, l := range req.Lines {
				l.State = domainwf.StateDraft
				l.CurrentLevel = 0
				l.Route = nil
				l.Decisions = nil
				l.ReservationID = ""
			}
			return &step{
				target: domainwf.StateDraft,
				actor:  actorOr(o.actor, req.Requester),
			}, nil
		},
	})
}

func (e *engineImpl) releaseAll(ctx context.Context, requestID int64, reason entity.ReleaseReason, st *step) error {
	released, err := e.ledger.ReleaseAllFor(ctx, requestID, reason)
	if err != nil {
		return err
	}
	for _, res := range released {
		st.events = append(st.events, reservationEvent(event.TypeReservationReleased, requestID, res.LineID, res.ID, res.Key, res.Amount.String()).
			WithPayload("reason", string(reason)))
	}
	return nil
}

func reservationEvent(t event.Type, requestID, lineID int64, reservationID string, key entity.BudgetKey, amount string) *event.Event {
	return event.NewEvent(t, requestID, entity.SystemActor, map[string]interface{}{
		"reservation_id": reservationID,
		"line_id":        lineID,
		"budget_key":     key.String(),
		"amount":         amount,
	})
}

// firstLevel returns the starting level and state for a resolved route.
// An empty route needs no approval.
func firstLevel(route []entity.RouteLevel) (int, domainwf.State) {
	if len(route) == 0 {
		return 0, domainwf.StateApproved
	}
	return 1, domainwf.StatePendingL1
}

func maxLineLevel(req *entity.SpendRequest) int {
	deepest := 0
	for _, l := range req.Lines {
		if l.State.IsPending() && l.CurrentLevel > deepest {
			deepest = l.CurrentLevel
		}
	}
	return deepest
}

func budgetKeys(req *entity.SpendRequest) []entity.BudgetKey {
	if !req.IsMultiLine() {
		return []entity.BudgetKey{req.BudgetKey()}
	}
	keys := make([]entity.BudgetKey, len(req.Lines))
	for i, l := range req.Lines {
		keys[i] = req.LineBudgetKey(l)
	}
	return keys
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}
