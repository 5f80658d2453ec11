package projection

import "github.com/garyjia/spend-approval/internal/domain/workflow"

// Aggregate computes the document state of a multi-target request from its
// line states. Any rejected line rejects the document; all approved lines
// approve it; a mix of approved and pending lines is PARTIALLY_APPROVED;
// otherwise the document waits at the deepest pending level.
func Aggregate(lines []workflow.State) workflow.State {
	if len(lines) == 0 {
		return workflow.StateDraft
	}

	approved, maxPending, drafts := 0, 0, 0
	for _, s := range lines {
		switch {
		case s == workflow.StateRejected:
			return workflow.StateRejected
		case s == workflow.StateApproved:
			approved++
		case s.IsPending():
			if lvl := s.PendingLevel(); lvl > maxPending {
				maxPending = lvl
			}
		case s == workflow.StateDraft:
			drafts++
		}
	}

	switch {
	case approved == len(lines):
		return workflow.StateApproved
	case drafts == len(lines):
		return workflow.StateDraft
	case approved > 0 && maxPending > 0:
		return workflow.StatePartiallyApproved
	case maxPending > 0:
		s, _ := workflow.PendingState(maxPending)
		return s
	default:
		return workflow.StateDraft
	}
}
