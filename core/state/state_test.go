package state

import "testing"

func TestTargetState_String(t *testing.T) {
	tests := []struct {
		state    TargetState
		expected string
	}{
		{StatePending, "Pending"},
		{StateAttempting, "Attempting"},
		{StateDone, "Done"},
		{StateSkipped, "Skipped"},
		{TargetState(99), "Unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("TargetState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTargetState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     TargetState
		to       TargetState
		expected bool
	}{
		{"Pending -> Attempting", StatePending, StateAttempting, true},
		{"Pending -> Skipped (no script)", StatePending, StateSkipped, true},
		{"Pending -> Done (invalid)", StatePending, StateDone, false},

		{"Attempting -> Attempting (restart)", StateAttempting, StateAttempting, true},
		{"Attempting -> Done", StateAttempting, StateDone, true},
		{"Attempting -> Skipped", StateAttempting, StateSkipped, true},
		{"Attempting -> Pending (invalid)", StateAttempting, StatePending, false},

		{"Done -> Attempting (invalid)", StateDone, StateAttempting, false},
		{"Skipped -> Pending (invalid)", StateSkipped, StatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.expected {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTargetState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    TargetState
		expected bool
	}{
		{StatePending, false},
		{StateAttempting, false},
		{StateDone, true},
		{StateSkipped, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	if tr.Current() != StatePending {
		t.Fatalf("Current() = %v, want Pending", tr.Current())
	}

	steps := []TargetState{StateAttempting, StateAttempting, StateDone}
	for _, next := range steps {
		if err := tr.TransitionTo(next); err != nil {
			t.Fatalf("TransitionTo(%v) error = %v", next, err)
		}
	}

	if err := tr.TransitionTo(StateAttempting); err == nil {
		t.Error("TransitionTo() from Done should fail")
	}
	if tr.Current() != StateDone {
		t.Errorf("Current() = %v, want Done", tr.Current())
	}
}

func TestTransitionError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransitionError
		expected string
	}{
		{
			"with reason",
			NewTransitionError(StateDone, StateAttempting, "already visited"),
			"invalid state transition from Done to Attempting: already visited",
		},
		{
			"without reason",
			NewTransitionError(StatePending, StateDone, ""),
			"invalid state transition from Pending to Done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}
