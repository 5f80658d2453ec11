// Package projection derives the externally visible status from workflow state.
// Apply is the only code that writes SpendRequest.Status.
package projection

import (
	"fmt"

	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/garyjia/spend-approval/internal/domain/workflow"
)

var knownStatuses = map[string]bool{
	entity.StatusDraft:             true,
	entity.StatusPendingApproval:   true,
	entity.StatusPartiallyApproved: true,
	entity.StatusApproved:          true,
	entity.StatusRejected:          true,
}

// Project maps a workflow state to its status. When lines are present and
// the request is in flight, the state is taken from the line aggregate.
// Cancellation keeps the previous status.
func Project(state workflow.State, lines []workflow.State, previous string) string {
	if state == workflow.StateCancelled {
		return previous
	}
	if len(lines) > 0 && state != workflow.StateDraft {
		state = Aggregate(lines)
	}

	switch {
	case state == workflow.StateDraft:
		return entity.StatusDraft
	case state.IsPending():
		return entity.StatusPendingApproval
	case state == workflow.StatePartiallyApproved:
		return entity.StatusPartiallyApproved
	case state == workflow.StateApproved:
		return entity.StatusApproved
	case state == workflow.StateRejected:
		return entity.StatusRejected
	default:
		return previous
	}
}

// Apply writes the projected status onto the request.
func Apply(req *entity.SpendRequest) {
	req.Cancelled = req.WorkflowState == workflow.StateCancelled
	req.Status = Project(req.WorkflowState, req.LineStates(), req.Status)
}

// Verify rejects a request whose status or cancellation flag drifted from
// its workflow state. Repositories call it before every write.
func Verify(req *entity.SpendRequest) error {
	if !req.WorkflowState.IsValid() {
		return fmt.Errorf("%w: request %d has invalid workflow state %q", apperr.ErrStatusWrite, req.ID, req.WorkflowState)
	}
	if req.Cancelled != (req.WorkflowState == workflow.StateCancelled) {
		return fmt.Errorf("%w: request %d cancelled flag disagrees with state %s", apperr.ErrStatusWrite, req.ID, req.WorkflowState)
	}

	if req.WorkflowState == workflow.StateCancelled {
		if !knownStatuses[req.Status] {
			return fmt.Errorf("%w: request %d carries unknown status %q", apperr.ErrStatusWrite, req.ID, req.Status)
		}
		return nil
	}

	if req.IsMultiLine() && req.WorkflowState != workflow.StateDraft {
		if agg := Aggregate(req.LineStates()); agg != req.WorkflowState {
			return fmt.Errorf("%w: request %d state %s disagrees with line aggregate %s",
				apperr.ErrStatusWrite, req.ID, req.WorkflowState, agg)
		}
	}

	want := Project(req.WorkflowState, req.LineStates(), req.Status)
	if req.Status != want {
		return fmt.Errorf("%w: request %d has status %q, workflow state %s projects %q",
			apperr.ErrStatusWrite, req.ID, req.Status, req.WorkflowState, want)
	}
	return nil
}
