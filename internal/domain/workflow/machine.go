package workflow

import "context"

// StateMachine tracks the current state of one request and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger has at least one transition from the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger and returns the transition that was taken
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns the triggers configured for the current state, sorted
	PermittedTriggers() []Trigger
}

// Transition describes one fired trigger.
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

type targetKey struct{}

// WithTarget stores the state the caller computed for the next transition.
// Guards built with TargetIs compare against it.
func WithTarget(ctx context.Context, target State) context.Context {
	return context.WithValue(ctx, targetKey{}, target)
}

// TargetFrom returns the target set by WithTarget.
func TargetFrom(ctx context.Context) (State, bool) {
	s, ok := ctx.Value(targetKey{}).(State)
	return s, ok
}

// TargetIs returns a guard that passes only when ctx carries the given target.
func TargetIs(target State) GuardFunc {
	return func(ctx context.Context) bool {
		s, ok := TargetFrom(ctx)
		return ok && s == target
	}
}
