// Package application orchestrates visit runs over the target list.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"visitly-go/application/interaction"
	"visitly-go/application/session"
	"visitly-go/application/visit"
	"visitly-go/core/event"
	"visitly-go/core/eventbus"
	"visitly-go/core/state"
	"visitly-go/domain/failure"
	"visitly-go/domain/script"
	"visitly-go/domain/target"
	"visitly-go/infrastructure/browser"
	"visitly-go/infrastructure/logging"
)

// Skip reasons recorded on Outcome.Reason.
const (
	ReasonNoScript           = "no script"
	ReasonScriptUnreadable   = "script unreadable"
	ReasonOutOfRetries       = "out of retries"
	ReasonSessionUnavailable = "session unavailable"
)

// RetryPolicy holds the scheduling knobs of a run.
type RetryPolicy struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int

	// Backoff is the pause after a Restart verdict or a failed re-acquire.
	Backoff time.Duration

	// Loop repeats passes until cancelled.
	Loop bool

	// LoopSleep is the pause between passes in loop mode.
	LoopSleep time.Duration

	// Shuffle permutes the target list once per pass.
	Shuffle bool
}

// DefaultRetryPolicy returns the default scheduling knobs.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 2,
		Backoff:    3 * time.Second,
		LoopSleep:  60 * time.Second,
	}
}

// MaxAttempts returns the attempt cap per target.
func (p *RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Outcome is one target's result within a pass.
type Outcome struct {
	Target      target.Target
	Attempts    int
	Disposition state.TargetState
	Reason      string

	// Err is the last error seen for the target, if any.
	Err error
}

// PassReport summarises one pass.
type PassReport struct {
	Pass     int
	Outcomes []Outcome
	Duration time.Duration
}

// Done returns the number of targets visited.
func (r *PassReport) Done() int {
	return r.count(state.StateDone)
}

// Skipped returns the number of targets abandoned.
func (r *PassReport) Skipped() int {
	return r.count(state.StateSkipped)
}

func (r *PassReport) count(s state.TargetState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Disposition == s {
			n++
		}
	}
	return n
}

// ProgramResolver finds the injected program for a target.
type ProgramResolver interface {
	Resolve(t target.Target) (*script.Program, error)
}

// SessionProvider hands out and tears down browser sessions.
type SessionProvider interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Release(s *session.Session)
}

// Visitor performs one visit with a live browser.
type Visitor interface {
	Visit(ctx context.Context, drv browser.Driver, t target.Target, p *script.Program) (*visit.Report, error)
}

// SchedulerConfig holds the dependencies of a Scheduler.
type SchedulerConfig struct {
	Policy   *RetryPolicy
	Targets  target.Source
	Scripts  ProgramResolver
	Sessions SessionProvider
	Visitor  Visitor
	EventBus eventbus.EventBus
	Logger   *slog.Logger

	// RunID identifies the run in events; generated when empty.
	RunID string

	// Sleep and Rand replace the context-aware sleep and the shuffle source.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

// Scheduler walks the target list with at most one live session.
type Scheduler struct {
	policy   *RetryPolicy
	targets  target.Source
	scripts  ProgramResolver
	sessions SessionProvider
	visitor  Visitor
	eventBus eventbus.EventBus
	logger   *slog.Logger
	runID    string
	sleep    func(ctx context.Context, d time.Duration) error
	rng      *rand.Rand
	now      func() time.Time

	current *session.Session
	pass    int
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = interaction.Sleep
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Scheduler{
		policy:   cfg.Policy,
		targets:  cfg.Targets,
		scripts:  cfg.Scripts,
		sessions: cfg.Sessions,
		visitor:  cfg.Visitor,
		eventBus: cfg.EventBus,
		logger:   cfg.Logger.With("run_id", cfg.RunID),
		runID:    cfg.RunID,
		sleep:    cfg.Sleep,
		rng:      cfg.Rand,
		now:      time.Now,
	}
}

// RunID returns the run identifier carried by published events.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Run executes passes over the target list until the list is exhausted (single
// mode) or ctx is cancelled (loop mode). The list is re-read before every pass.
// Only session creation failure at pass start and cancellation end a run early.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		targets, err := s.targets.Load()
		switch {
		case err != nil && !s.policy.Loop:
			return fmt.Errorf("failed to load targets: %w", err)
		case err != nil:
			s.logger.Error("Failed to load targets", "error", err)
		case len(targets) == 0 && !s.policy.Loop:
			s.logger.Warn("Target list is empty, nothing to do")
			return nil
		case len(targets) == 0:
			s.logger.Warn("Target list is empty, waiting", "wait", s.policy.LoopSleep)
		default:
			if s.policy.Shuffle {
				target.Shuffle(targets, s.rng)
			}
			report, err := s.RunPass(ctx, targets)
			if err != nil {
				return err
			}
			s.logger.Info("Pass finished",
				"pass", report.Pass,
				"done", report.Done(),
				"skipped", report.Skipped(),
				"duration", report.Duration.Round(time.Second),
			)
			if !s.policy.Loop {
				return nil
			}
			s.logger.Info("Sleeping before next pass", "wait", s.policy.LoopSleep)
		}

		if err := s.sleep(ctx, s.policy.LoopSleep); err != nil {
			return err
		}
	}
}

// RunPass visits targets once, in order. A session is acquired eagerly and
// released when the pass ends; failing to acquire it is fatal.
func (s *Scheduler) RunPass(ctx context.Context, targets []target.Target) (*PassReport, error) {
	s.pass++
	report := &PassReport{Pass: s.pass}
	started := s.now()
	logger := s.logger.With("pass", s.pass)

	logger.Info("Pass started", "targets", len(targets))
	s.publish(event.NewPassStarted(s.runID, s.pass, len(targets)))
	defer s.releaseSession()

	if err := s.acquireSession(ctx); err != nil {
		return nil, err
	}

	for i, t := range targets {
		logger.Info("Processing target", "index", i+1, "total", len(targets), "target", t.Raw)
		out, err := s.processTarget(ctx, t)
		if err != nil {
			report.Duration = s.now().Sub(started)
			return report, err
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	report.Duration = s.now().Sub(started)
	s.publish(event.NewPassCompleted(s.runID, s.pass, report.Done(), report.Skipped(), report.Duration))
	return report, nil
}

// processTarget drives one target to a terminal state. The returned error is
// non-nil only when ctx is done.
func (s *Scheduler) processTarget(ctx context.Context, t target.Target) (Outcome, error) {
	out := Outcome{Target: t}
	tracker := state.NewTracker()
	maxAttempts := s.policy.MaxAttempts()
	logger := s.logger.With("pass", s.pass, "target", t.Raw, "domain", t.RootDomain)
	ctx = logging.With(ctx, logger)

	s.publish(event.NewTargetStarted(s.runID, s.pass, t.Raw, t.RootDomain))

	finish := func(disposition state.TargetState, reason string) (Outcome, error) {
		if err := tracker.TransitionTo(disposition); err != nil {
			logger.Error("Unexpected state change", "error", err)
		}
		out.Disposition = disposition
		out.Reason = reason
		if disposition == state.StateDone {
			logger.Info("Target done", "attempts", out.Attempts)
		} else {
			logger.Info("Target skipped", "attempts", out.Attempts, "reason", reason)
		}
		s.publish(event.NewTargetFinished(s.runID, s.pass, t.Raw, t.RootDomain, disposition, out.Attempts, reason, s.now()))
		return out, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		program, err := s.scripts.Resolve(t)
		if err != nil {
			out.Err = err
			if errors.Is(err, script.ErrNotFound) {
				return finish(state.StateSkipped, ReasonNoScript)
			}
			logger.Warn("Script could not be loaded", "error", err)
			return finish(state.StateSkipped, ReasonScriptUnreadable)
		}

		out.Attempts++
		if err := tracker.TransitionTo(state.StateAttempting); err != nil {
			logger.Error("Unexpected state change", "error", err)
		}

		if s.current == nil {
			if err := s.acquireSession(ctx); err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				out.Err = err
				s.publish(event.NewAttemptFailed(s.runID, s.pass, t.Raw, out.Attempts, failure.Restart.String(), err))
				if out.Attempts >= maxAttempts {
					return finish(state.StateSkipped, ReasonSessionUnavailable)
				}
				if err := s.sleep(ctx, s.policy.Backoff); err != nil {
					return out, err
				}
				continue
			}
		}

		logger.Debug("Visit attempt", "attempt", out.Attempts, "max_attempts", maxAttempts, "script", program.Path)
		_, err = s.visitor.Visit(ctx, s.current.Driver(), t, program)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		verdict := failure.Classify(err)
		if err != nil {
			out.Err = err
			logger.Warn("Visit attempt failed", "attempt", out.Attempts, "verdict", verdict, "error", err)
			s.publish(event.NewAttemptFailed(s.runID, s.pass, t.Raw, out.Attempts, verdict.String(), err))
		}

		switch verdict {
		case failure.Proceed:
			return finish(state.StateDone, "")

		case failure.Skip:
			return finish(state.StateSkipped, err.Error())

		case failure.Restart:
			s.releaseSession()
			if err := s.sleep(ctx, s.policy.Backoff); err != nil {
				return out, err
			}
			if out.Attempts >= maxAttempts {
				return finish(state.StateSkipped, ReasonOutOfRetries)
			}
			if err := s.acquireSession(ctx); err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				logger.Warn("Session re-acquire failed", "error", err)
				if err := s.sleep(ctx, s.policy.Backoff); err != nil {
					return out, err
				}
			}
		}
	}
}

// acquireSession makes a session live. Any held session is released first so
// two browsers never overlap.
func (s *Scheduler) acquireSession(ctx context.Context) error {
	s.releaseSession()

	sess, err := s.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	s.current = sess
	s.publish(event.NewSessionAcquired(s.runID, sess.ID()))
	return nil
}

func (s *Scheduler) releaseSession() {
	if s.current == nil {
		return
	}
	sess := s.current
	s.current = nil
	s.sessions.Release(sess)
	s.publish(event.NewSessionReleased(s.runID, sess.ID()))
}

func (s *Scheduler) publish(e event.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(e)
	}
}
