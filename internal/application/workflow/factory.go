package workflow

import (
	domainwf "github.com/garyjia/spend-approval/internal/domain/workflow"
)

var (
	submitTargets = []domainwf.State{
		domainwf.StatePendingL1,
		domainwf.StatePartiallyApproved,
		domainwf.StateApproved,
	}
	approveTargets = []domainwf.State{
		domainwf.StatePendingL1,
		domainwf.StatePendingL2,
		domainwf.StatePendingL3,
		domainwf.StatePartiallyApproved,
		domainwf.StateApproved,
	}
	inFlight = []domainwf.State{
		domainwf.StatePendingL1,
		domainwf.StatePendingL2,
		domainwf.StatePendingL3,
		domainwf.StatePartiallyApproved,
	}
)

// BuildSpendDefinition declares the spend request transition table. SUBMIT
// and APPROVE have several targets; the engine computes the target and the
// TargetIs guards pick the matching transition.
func BuildSpendDefinition() *domainwf.Definition {
	builder := domainwf.NewBuilder()

	// DRAFT state transitions
	draft := builder.Configure(domainwf.StateDraft)
	permitTargets(draft, domainwf.TriggerSubmit, submitTargets)
	draft.Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// PENDING_Ln and PARTIALLY_APPROVED state transitions
	for _, s := range inFlight {
		c := builder.Configure(s)
		permitTargets(c, domainwf.TriggerApprove, approveTargets)
		c.Permit(domainwf.TriggerReject, domainwf.StateRejected).
			Permit(domainwf.TriggerCancel, domainwf.StateCancelled)
	}

	// APPROVED state transitions
	builder.Configure(domainwf.StateApproved).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// REJECTED state transitions
	builder.Configure(domainwf.StateRejected).
		Permit(domainwf.TriggerReopen, domainwf.StateDraft).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// CANCELLED is terminal

	return builder.Definition()
}

func permitTargets(c domainwf.StateConfiguration, trigger domainwf.Trigger, targets []domainwf.State) {
	for _, t := range targets {
		c.PermitIf(trigger, t, domainwf.TargetIs(t))
	}
}
