package workflow

import "fmt"

// State represents a workflow state in the spend request lifecycle
type State string

const (
	StateDraft             State = "DRAFT"
	StatePendingL1         State = "PENDING_L1"
	StatePendingL2         State = "PENDING_L2"
	StatePendingL3         State = "PENDING_L3"
	StatePartiallyApproved State = "PARTIALLY_APPROVED"
	StateApproved          State = "APPROVED"
	StateRejected          State = "REJECTED"
	StateCancelled         State = "CANCELLED"
)

// MaxLevels is the deepest approval route the engine supports.
const MaxLevels = 3

var pendingStates = []State{StatePendingL1, StatePendingL2, StatePendingL3}

var validStates = map[State]bool{
	StateDraft:             true,
	StatePendingL1:         true,
	StatePendingL2:         true,
	StatePendingL3:         true,
	StatePartiallyApproved: true,
	StateApproved:          true,
	StateRejected:          true,
	StateCancelled:         true,
}

// Approved and Rejected only leave through Cancel or Reopen.
var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// PendingState returns the PENDING_Ln state for a 1-based level.
func PendingState(level int) (State, error) {
	if level < 1 || level > MaxLevels {
		return "", fmt.Errorf("%w: no pending state for level %d", ErrInvalidState, level)
	}
	return pendingStates[level-1], nil
}

// PendingLevel returns n for PENDING_Ln and 0 for every other state.
func (s State) PendingLevel() int {
	for i, p := range pendingStates {
		if s == p {
			return i + 1
		}
	}
	return 0
}

// IsPending reports whether the state waits on an approver.
func (s State) IsPending() bool {
	return s.PendingLevel() > 0
}

// IsTerminal returns true if the state no longer advances through approvals
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
