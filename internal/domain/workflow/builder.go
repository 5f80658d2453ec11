package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder declares a transition table
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Definition freezes the table declared so far
	Definition() *Definition

	// Build creates a machine at the given initial state; it panics on an invalid state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard condition passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type table map[State]map[Trigger][]transition

type stateConfig struct {
	transitions map[Trigger][]transition
}

type stateMachineBuilder struct {
	states table
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{states: make(table)}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	transitions, exists := b.states[state]
	if !exists {
		transitions = make(map[Trigger][]transition)
		b.states[state] = transitions
	}
	return &stateConfig{transitions: transitions}
}

// Definition copies the table so later Configure calls do not leak into it
func (b *stateMachineBuilder) Definition() *Definition {
	frozen := make(table, len(b.states))
	for state, triggers := range b.states {
		copied := make(map[Trigger][]transition, len(triggers))
		for trigger, ts := range triggers {
			copied[trigger] = append([]transition(nil), ts...)
		}
		frozen[state] = copied
	}
	return &Definition{states: frozen}
}

// Build creates a new state machine instance with the given initial state
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	m, err := b.Definition().Machine(initialState)
	if err != nil {
		panic(err.Error())
	}
	return m
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard condition passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		toState: toState,
		guard:   guard,
	})
	return c
}

// Definition is an immutable transition table shared by any number of machines.
type Definition struct {
	states table
}

// Machine creates a state machine positioned at initialState.
func (d *Definition) Machine(initialState State) (StateMachine, error) {
	if !initialState.IsValid() {
		return nil, fmt.Errorf("%w: invalid initial state %q", ErrInvalidState, initialState)
	}
	return &stateMachine{currentState: initialState, states: d.states}, nil
}

// Targets lists the states a trigger may lead to from a state, in declaration order.
func (d *Definition) Targets(from State, trigger Trigger) []State {
	ts := d.states[from][trigger]
	out := make([]State, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.toState)
	}
	return out
}

type stateMachine struct {
	currentState State
	states       table
}

func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire cannot evaluate guards without a context, so any declared transition counts
func (m *stateMachine) CanFire(trigger Trigger) bool {
	return len(m.states[m.currentState][trigger]) > 0
}

// Fire tries each declared transition in order and takes the first whose guard passes
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) (Transition, error) {
	from := m.currentState
	transitions := m.states[from][trigger]
	if len(transitions) == 0 {
		return Transition{}, fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, from)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return Transition{From: from, To: t.toState, Trigger: trigger}, nil
		}
	}

	if target, ok := TargetFrom(ctx); ok {
		return Transition{}, fmt.Errorf("%w: trigger %s from state %s to %s", ErrGuardFailed, trigger, from, target)
	}
	return Transition{}, fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, from)
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	triggers := make([]Trigger, 0, len(m.states[m.currentState]))
	for trigger, ts := range m.states[m.currentState] {
		if len(ts) > 0 {
			triggers = append(triggers, trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
