package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/spend-approval/internal/application/ledger"
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/event"
	domainwf "github.com/garyjia/spend-approval/internal/domain/workflow"
	"github.com/garyjia/spend-approval/pkg/utils"
)

const actionUpdateDraft = "UPDATE_DRAFT"

// CreateDraft stores a new request in DRAFT. Status is projected, never taken from input.
func (e *engineImpl) CreateDraft(ctx context.Context, d Draft) (*entity.SpendRequest, error) {
	req := &entity.SpendRequest{
		WorkflowState: domainwf.StateDraft,
		Status:        entity.StatusDraft,
	}
	if err := applyDraft(req, d); err != nil {
		return nil, err
	}

	if err := e.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	e.logger.Info("Draft created", "request_id", req.ID, "requester", req.Requester, "org_unit", req.OrgUnit,
		"amount", req.Amount.String(), "lines", len(req.Lines))
	return req, nil
}

// UpdateDraft replaces the editable fields of a DRAFT request
func (e *engineImpl) UpdateDraft(ctx context.Context, id int64, d Draft, opts ...Option) (*entity.SpendRequest, error) {
	o := collect(opts)

	var result *entity.SpendRequest
	err := e.locker.WithLock(ctx, RequestLockKey(id), func(ctx context.Context) error {
		req, err := e.requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if o.hasVersion && req.Version != o.version {
			return &apperr.ConcurrentModificationError{RequestID: id, Expected: o.version, Actual: req.Version,
				Reason: "request changed since it was read"}
		}
		if req.WorkflowState != domainwf.StateDraft {
			return fmt.Errorf("%w: request %d is %s, only drafts can be edited",
				domainwf.ErrInvalidTransition, id, req.WorkflowState)
		}
		if d.Requester != "" && d.Requester != req.Requester {
			return apperr.Validationf("requester cannot be changed")
		}
		d.Requester = req.Requester
		if err := applyDraft(req, d); err != nil {
			return err
		}

		expected := req.Version
		return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			if err := e.requests.Update(ctx, req, expected); err != nil {
				return err
			}
			result = req
			return e.history.Create(ctx, &entity.ApprovalHistory{
				RequestID:      id,
				Actor:          actorOr(o.actor, req.Requester),
				PreviousState:  req.WorkflowState.String(),
				NewState:       req.WorkflowState.String(),
				PreviousStatus: req.Status,
				NewStatus:      req.Status,
				ActionType:     actionUpdateDraft,
				Timestamp:      e.now(),
			})
		})
	})
	if err != nil {
		return nil, lockConflict(id, o.version, err)
	}
	return result, nil
}

func applyDraft(req *entity.SpendRequest, d Draft) error {
	d.Requester = strings.TrimSpace(d.Requester)
	d.OrgUnit = strings.TrimSpace(d.OrgUnit)
	d.Account = strings.TrimSpace(d.Account)
	if err := utils.ValidateIdentifier("requester", d.Requester); err != nil {
		return apperr.Validationf("%v", err)
	}
	if err := utils.ValidateIdentifier("org unit", d.OrgUnit); err != nil {
		return apperr.Validationf("%v", err)
	}
	if d.Account != "" {
		if err := utils.ValidateIdentifier("account", d.Account); err != nil {
			return apperr.Validationf("%v", err)
		}
	}
	if d.Currency != "" {
		if err := utils.ValidateCurrency(d.Currency); err != nil {
			return apperr.Validationf("%v", err)
		}
	}
	if d.Amount.IsNegative() {
		return apperr.Validationf("amount must not be negative")
	}

	lines := make([]*entity.RequestLine, 0, len(d.Lines))
	for i, dl := range d.Lines {
		if !dl.Amount.IsPositive() {
			return apperr.Validationf("line %d amount must be positive", i+1)
		}
		org := strings.TrimSpace(dl.OrgUnit)
		if org == "" {
			org = d.OrgUnit
		} else if err := utils.ValidateIdentifier("line org unit", org); err != nil {
			return apperr.Validationf("line %d: %v", i+1, err)
		}
		lines = append(lines, &entity.RequestLine{
			OrgUnit:     org,
			Account:     strings.TrimSpace(dl.Account),
			Description: utils.SanitizeString(dl.Description),
			Amount:      dl.Amount,
			State:       domainwf.StateDraft,
		})
	}

	req.Requester = d.Requester
	req.OrgUnit = d.OrgUnit
	req.Account = d.Account
	req.FiscalPeriod = d.FiscalPeriod
	req.Categories = append([]string(nil), d.Categories...)
	req.Currency = d.Currency
	req.Description = utils.SanitizeString(d.Description)
	req.Amount = d.Amount
	req.Lines = nil
	if len(lines) > 0 {
		req.Lines = lines
		total := req.LineTotal()
		if req.Amount.IsZero() {
			req.Amount = total
		} else if !req.Amount.Equal(total) {
			return apperr.Validationf("amount %s does not equal the sum of line amounts %s", req.Amount, total)
		}
	}
	if !req.Amount.IsPositive() {
		return apperr.Validationf("amount must be positive")
	}
	return nil
}

// RecordArtifact links a downstream document to an approved request. A
// settlement hangs off the live invoice when there is one.
func (e *engineImpl) RecordArtifact(ctx context.Context, id int64, report ArtifactReport) (*entity.LifecycleLink, error) {
	if !report.Kind.IsValid() {
		return nil, apperr.Validationf("unknown artifact kind %q", report.Kind)
	}
	report.ArtifactID = strings.TrimSpace(report.ArtifactID)
	if err := utils.ValidateIdentifier("artifact id", report.ArtifactID); err != nil {
		return nil, apperr.Validationf("%v", err)
	}
	report.Name = utils.SanitizeString(report.Name)
	if report.State == "" {
		report.State = entity.ArtifactDraft
	}
	if !report.State.IsValid() || report.State == entity.ArtifactCancelled {
		return nil, apperr.Validationf("artifact must be reported as DRAFT or SUBMITTED, got %q", report.State)
	}

	var (
		link   *entity.LifecycleLink
		events []*event.Event
	)
	err := e.locker.WithLock(ctx, RequestLockKey(id), func(ctx context.Context) error {
		req, err := e.requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.WorkflowState != domainwf.StateApproved {
			return fmt.Errorf("%w: request %d is %s, artifacts need an approved request",
				domainwf.ErrInvalidTransition, id, req.WorkflowState)
		}

		existing, err := e.links.ListByRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list links: %w", err)
		}
		var upstream *int64
		for _, l := range existing {
			if !l.IsLive() {
				continue
			}
			if l.Kind == report.Kind {
				if l.ArtifactID == report.ArtifactID {
					link = l
					return nil
				}
				return apperr.Validationf("request %d already has a live %s %s",
					id, strings.ToLower(string(l.Kind)), l.ArtifactID)
			}
			if report.Kind == entity.ArtifactSettlement && l.Kind == entity.ArtifactInvoice {
				invoiceID := l.ID
				upstream = &invoiceID
			}
		}

		link = &entity.LifecycleLink{
			RequestID:      id,
			Kind:           report.Kind,
			ArtifactID:     report.ArtifactID,
			ArtifactName:   report.Name,
			State:          report.State,
			UpstreamLinkID: upstream,
		}
		return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			if err := e.links.Create(ctx, link); err != nil {
				return fmt.Errorf("failed to create link: %w", err)
			}
			events = append(events, event.NewEvent(event.TypeArtifactReported, id, entity.SystemActor, map[string]interface{}{
				"link_id":       link.ID,
				"artifact_id":   link.ArtifactID,
				"artifact_kind": string(link.Kind),
				"state":         string(link.State),
			}))
			return e.settleIfFinal(ctx, link, &events)
		})
	})
	if err != nil {
		return nil, lockConflict(id, 0, err)
	}

	e.publishAll(ctx, events)
	return link, nil
}

// UpdateArtifactState applies a collaborator's report about a linked document
func (e *engineImpl) UpdateArtifactState(ctx context.Context, linkID int64, update ArtifactUpdate) (*entity.LifecycleLink, error) {
	if update.State != nil && !update.State.IsValid() {
		return nil, apperr.Validationf("unknown artifact state %q", *update.State)
	}

	current, err := e.links.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}

	var (
		link   *entity.LifecycleLink
		events []*event.Event
	)
	err = e.locker.WithLock(ctx, RequestLockKey(current.RequestID), func(ctx context.Context) error {
		link, err = e.links.GetByID(ctx, linkID)
		if err != nil {
			return err
		}
		if !link.IsLive() {
			return fmt.Errorf("%w: %s %s is already cancelled",
				domainwf.ErrInvalidTransition, strings.ToLower(string(link.Kind)), link.ArtifactID)
		}
		if update.State != nil {
			link.State = *update.State
		}
		if update.Locked != nil {
			link.Locked = *update.Locked
			link.LockReason = ""
			if link.Locked {
				link.LockReason = update.LockReason
			}
		}

		return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			if err := e.links.Update(ctx, link); err != nil {
				return fmt.Errorf("failed to update link %d: %w", link.ID, err)
			}
			events = append(events, event.NewEvent(event.TypeArtifactReported, link.RequestID, entity.SystemActor, map[string]interface{}{
				"link_id":     link.ID,
				"artifact_id": link.ArtifactID,
				"state":       string(link.State),
				"locked":      link.Locked,
			}))
			return e.settleIfFinal(ctx, link, &events)
		})
	})
	if err != nil {
		return nil, lockConflict(current.RequestID, 0, err)
	}

	e.publishAll(ctx, events)
	return link, nil
}

// settleIfFinal releases the request's reservations once its settlement
// is submitted; the funds are then spent, not held.
func (e *engineImpl) settleIfFinal(ctx context.Context, link *entity.LifecycleLink, events *[]*event.Event) error {
	if link.Kind != entity.ArtifactSettlement || link.State != entity.ArtifactSubmitted {
		return nil
	}
	st := &step{}
	if err := e.releaseAll(ctx, link.RequestID, entity.ReleaseSettled, st); err != nil {
		return err
	}
	*events = append(*events, st.events...)
	return nil
}

func (e *engineImpl) publishAll(ctx context.Context, events []*event.Event) {
	if e.publisher == nil {
		return
	}
	for _, evt := range events {
		e.publisher.DispatchAsync(ctx, evt)
	}
}

func (e *engineImpl) Get(ctx context.Context, id int64) (*entity.SpendRequest, error) {
	return e.requests.GetByID(ctx, id)
}

func (e *engineImpl) List(ctx context.Context, filter port.RequestFilter) ([]*entity.SpendRequest, error) {
	return e.requests.List(ctx, filter)
}

func (e *engineImpl) History(ctx context.Context, id int64) ([]*entity.ApprovalHistory, error) {
	if _, err := e.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return e.history.GetByRequestID(ctx, id)
}

func (e *engineImpl) Links(ctx context.Context, id int64) ([]*entity.LifecycleLink, error) {
	if _, err := e.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return e.links.ListByRequest(ctx, id)
}

func (e *engineImpl) Reservations(ctx context.Context, id int64) ([]*entity.BudgetReservation, error) {
	if _, err := e.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return e.reservations.ListByRequest(ctx, id)
}

func (e *engineImpl) Balance(ctx context.Context, key entity.BudgetKey) (*ledger.Balance, error) {
	return e.ledger.Available(ctx, key)
}
