package event

import (
	"time"

	"visitly-go/core/state"
)

// PassStarted is published when a pass over the target list begins.
type PassStarted struct {
	baseRunEvent
	Pass    int
	Targets int
}

func NewPassStarted(runID string, pass, targets int) *PassStarted {
	return &PassStarted{
		baseRunEvent: baseRunEvent{runID: runID},
		Pass:         pass,
		Targets:      targets,
	}
}

func (e *PassStarted) EventName() string {
	return "PassStarted"
}

// PassCompleted is published when every target of a pass has a disposition.
type PassCompleted struct {
	baseRunEvent
	Pass     int
	Done     int
	Skipped  int
	Duration time.Duration
}

func NewPassCompleted(runID string, pass, done, skipped int, duration time.Duration) *PassCompleted {
	return &PassCompleted{
		baseRunEvent: baseRunEvent{runID: runID},
		Pass:         pass,
		Done:         done,
		Skipped:      skipped,
		Duration:     duration,
	}
}

func (e *PassCompleted) EventName() string {
	return "PassCompleted"
}

// TargetStarted is published before the first attempt on a target.
type TargetStarted struct {
	baseRunEvent
	Pass       int
	Target     string
	RootDomain string
}

func NewTargetStarted(runID string, pass int, target, rootDomain string) *TargetStarted {
	return &TargetStarted{
		baseRunEvent: baseRunEvent{runID: runID},
		Pass:         pass,
		Target:       target,
		RootDomain:   rootDomain,
	}
}

func (e *TargetStarted) EventName() string {
	return "TargetStarted"
}

// AttemptFailed is published when a visit attempt ends with an error.
type AttemptFailed struct {
	baseRunEvent
	Pass    int
	Target  string
	Attempt int
	Verdict string
	Error   error
}

func NewAttemptFailed(runID string, pass int, target string, attempt int, verdict string, err error) *AttemptFailed {
	return &AttemptFailed{
		baseRunEvent: baseRunEvent{runID: runID},
		Pass:         pass,
		Target:       target,
		Attempt:      attempt,
		Verdict:      verdict,
		Error:        err,
	}
}

func (e *AttemptFailed) EventName() string {
	return "AttemptFailed"
}

// TargetFinished is published once per target per pass with its final disposition.
type TargetFinished struct {
	baseRunEvent
	Pass        int
	Target      string
	RootDomain  string
	Disposition state.TargetState
	Attempts    int
	Reason      string
	FinishedAt  time.Time
}

func NewTargetFinished(runID string, pass int, target, rootDomain string, disposition state.TargetState, attempts int, reason string, finishedAt time.Time) *TargetFinished {
	return &TargetFinished{
		baseRunEvent: baseRunEvent{runID: runID},
		Pass:         pass,
		Target:       target,
		RootDomain:   rootDomain,
		Disposition:  disposition,
		Attempts:     attempts,
		Reason:       reason,
		FinishedAt:   finishedAt,
	}
}

func (e *TargetFinished) EventName() string {
	return "TargetFinished"
}

// SessionAcquired is published when a browser session becomes live.
type SessionAcquired struct {
	baseRunEvent
	SessionID string
}

func NewSessionAcquired(runID, sessionID string) *SessionAcquired {
	return &SessionAcquired{
		baseRunEvent: baseRunEvent{runID: runID},
		SessionID:    sessionID,
	}
}

func (e *SessionAcquired) EventName() string {
	return "SessionAcquired"
}

// SessionReleased is published after a browser session is torn down.
type SessionReleased struct {
	baseRunEvent
	SessionID string
}

func NewSessionReleased(runID, sessionID string) *SessionReleased {
	return &SessionReleased{
		baseRunEvent: baseRunEvent{runID: runID},
		SessionID:    sessionID,
	}
}

func (e *SessionReleased) EventName() string {
	return "SessionReleased"
}
