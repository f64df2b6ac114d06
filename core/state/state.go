// Package state defines the per-target visit state machine.
package state

import "fmt"

// TargetState represents the state of one target within a pass.
type TargetState int

const (
	// StatePending is the initial state before the first attempt.
	StatePending TargetState = iota
	// StateAttempting indicates a visit attempt is in progress.
	StateAttempting
	// StateDone indicates the target was visited.
	StateDone
	// StateSkipped indicates the target was abandoned for this pass.
	StateSkipped
)

// String returns the string representation of the state.
func (s TargetState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateAttempting:
		return "Attempting"
	case StateDone:
		return "Done"
	case StateSkipped:
		return "Skipped"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines the allowed state transitions.
// Attempting -> Attempting is the restart self-loop.
var validTransitions = map[TargetState][]TargetState{
	StatePending:    {StateAttempting, StateSkipped},
	StateAttempting: {StateAttempting, StateDone, StateSkipped},
	StateDone:       {},
	StateSkipped:    {},
}

// CanTransitionTo checks if transitioning from the current state to the target state is valid.
func (s TargetState) CanTransitionTo(target TargetState) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidTransitions returns the list of valid target states from the current state.
func (s TargetState) ValidTransitions() []TargetState {
	return validTransitions[s]
}

// IsTerminal returns true if the state is a final disposition.
func (s TargetState) IsTerminal() bool {
	return s == StateDone || s == StateSkipped
}

// TransitionError represents an invalid state transition attempt.
type TransitionError struct {
	From   TargetState
	To     TargetState
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid state transition from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to TargetState, reason string) *TransitionError {
	return &TransitionError{From: from, To: to, Reason: reason}
}

// Tracker holds the current state of one target and enforces valid transitions.
type Tracker struct {
	current TargetState
}

// NewTracker creates a tracker in StatePending.
func NewTracker() *Tracker {
	return &Tracker{current: StatePending}
}

// Current returns the current state.
func (t *Tracker) Current() TargetState {
	return t.current
}

// TransitionTo moves to next if the transition is allowed.
func (t *Tracker) TransitionTo(next TargetState) error {
	if !t.current.CanTransitionTo(next) {
		return NewTransitionError(t.current, next, "")
	}
	t.current = next
	return nil
}
