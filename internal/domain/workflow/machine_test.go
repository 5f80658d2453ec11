package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateDraft, false},
		{StatePendingL1, false},
		{StatePendingL2, false},
		{StatePendingL3, false},
		{StatePartiallyApproved, false},
		{StateApproved, true},
		{StateRejected, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"draft", StateDraft, true},
		{"cancelled", StateCancelled, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_PendingLevel(t *testing.T) {
	tests := []struct {
		state State
		level int
	}{
		{StatePendingL1, 1},
		{StatePendingL2, 2},
		{StatePendingL3, 3},
		{StateDraft, 0},
		{StatePartiallyApproved, 0},
		{StateApproved, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.PendingLevel(); got != tt.level {
				t.Errorf("PendingLevel() = %d, want %d", got, tt.level)
			}
			if got := tt.state.IsPending(); got != (tt.level > 0) {
				t.Errorf("IsPending() = %v, want %v", got, tt.level > 0)
			}
		})
	}
}

func TestPendingState(t *testing.T) {
	for level := 1; level <= MaxLevels; level++ {
		s, err := PendingState(level)
		if err != nil {
			t.Fatalf("PendingState(%d) failed: %v", level, err)
		}
		if s.PendingLevel() != level {
			t.Errorf("PendingState(%d) = %v", level, s)
		}
	}

	for _, level := range []int{0, 4, -1} {
		if _, err := PendingState(level); !errors.Is(err, ErrInvalidState) {
			t.Errorf("PendingState(%d) error = %v, want %v", level, err, ErrInvalidState)
		}
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerReopen.String(); got != "REOPEN" {
		t.Errorf("Trigger.String() = %v, want %v", got, "REOPEN")
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	builder.Configure(State("INVALID"))
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	builder.Build(State("INVALID"))
}

func TestDefinition_MachineRejectsInvalidState(t *testing.T) {
	def := NewBuilder().Definition()

	if _, err := def.Machine(State("BOGUS")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Machine() error = %v, want %v", err, ErrInvalidState)
	}
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).
		Permit(TriggerSubmit, StatePendingL1)

	machine := builder.Build(StateDraft)

	if !machine.CanFire(TriggerSubmit) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	tr, err := machine.Fire(context.Background(), TriggerSubmit)
	if err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}

	if machine.State() != StatePendingL1 {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StatePendingL1)
	}
	if tr.From != StateDraft || tr.To != StatePendingL1 || tr.Trigger != TriggerSubmit {
		t.Errorf("Fire() transition = %+v", tr)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).
		PermitIf(TriggerSubmit, StatePendingL1, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(StateDraft)

	_, err := machine.Fire(context.Background(), TriggerSubmit)
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}

	if machine.State() != StateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateDraft, machine.State())
	}
}

func TestStateConfiguration_TargetGuards(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).
		PermitIf(TriggerSubmit, StatePendingL1, TargetIs(StatePendingL1)).
		PermitIf(TriggerSubmit, StateApproved, TargetIs(StateApproved))
	def := builder.Definition()

	tests := []struct {
		name   string
		target State
		want   State
	}{
		{"routed", StatePendingL1, StatePendingL1},
		{"zero levels", StateApproved, StateApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, err := def.Machine(StateDraft)
			if err != nil {
				t.Fatalf("Machine() failed: %v", err)
			}
			if _, err := machine.Fire(WithTarget(context.Background(), tt.target), TriggerSubmit); err != nil {
				t.Fatalf("Fire() failed: %v", err)
			}
			if machine.State() != tt.want {
				t.Errorf("State = %v, want %v", machine.State(), tt.want)
			}
		})
	}

	t.Run("undeclared target", func(t *testing.T) {
		machine, _ := def.Machine(StateDraft)
		_, err := machine.Fire(WithTarget(context.Background(), StatePendingL3), TriggerSubmit)
		if !errors.Is(err, ErrGuardFailed) {
			t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
		}
	})
}

func TestStateConfiguration_PermitPanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on invalid target state")
		}
	}()

	builder.Configure(StateDraft).Permit(TriggerSubmit, State("INVALID"))
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).
		Permit(TriggerSubmit, StatePendingL1)

	machine := builder.Build(StateDraft)

	_, err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}

	if machine.State() != StateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateDraft, machine.State())
	}
}

func TestStateMachine_PermittedTriggersSorted(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateRejected).
		Permit(TriggerReopen, StateDraft).
		Permit(TriggerCancel, StateCancelled)

	machine := builder.Build(StateRejected)

	triggers := machine.PermittedTriggers()
	if len(triggers) != 2 || triggers[0] != TriggerCancel || triggers[1] != TriggerReopen {
		t.Errorf("PermittedTriggers() = %v, want [CANCEL REOPEN]", triggers)
	}

	if got := builder.Build(StateCancelled).PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() for unconfigured state = %v, want none", got)
	}
}

func TestDefinition_IsolatedFromLaterConfiguration(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).Permit(TriggerSubmit, StatePendingL1)
	def := builder.Definition()

	builder.Configure(StateDraft).Permit(TriggerCancel, StateCancelled)

	machine, _ := def.Machine(StateDraft)
	if machine.CanFire(TriggerCancel) {
		t.Error("Definition should not see transitions configured after it was taken")
	}
	if got := def.Targets(StateDraft, TriggerSubmit); len(got) != 1 || got[0] != StatePendingL1 {
		t.Errorf("Targets() = %v", got)
	}
}

func TestStateMachine_Independence(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).
		Permit(TriggerSubmit, StatePendingL1)

	machine1 := builder.Build(StateDraft)
	machine2 := builder.Build(StateDraft)

	if _, err := machine1.Fire(context.Background(), TriggerSubmit); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine2.State() != StateDraft {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StateDraft)
	}
}
