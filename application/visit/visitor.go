// Package visit performs a single visit of a target with a live browser.
package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visitly-go/application/interaction"
	"visitly-go/domain/failure"
	"visitly-go/domain/script"
	"visitly-go/domain/target"
	"visitly-go/infrastructure/browser"
	"visitly-go/infrastructure/logging"
)

// Config holds per-visit timing.
type Config struct {
	// VisitSleep is how long the browser stays on the page after injection.
	VisitSleep time.Duration

	// MaxVisitTime caps both the readiness wait and the stay.
	MaxVisitTime time.Duration

	// ReadyTimeout bounds the wait for document.readyState == "complete".
	ReadyTimeout time.Duration

	// Fallback runs the consent/play heuristics when no program reports success.
	Fallback bool
}

// DefaultConfig returns the default visit timing.
func DefaultConfig() *Config {
	return &Config{
		VisitSleep:   300 * time.Second,
		MaxVisitTime: 300 * time.Second,
		ReadyTimeout: 30 * time.Second,
		Fallback:     true,
	}
}

// Report describes how a visit went. A visit that returns a nil error may
// still be degraded.
type Report struct {
	// Async is true when the async contract was applied.
	Async bool

	// Status is the async program's report; StatusNoSignal for sync programs.
	Status script.Status

	// Degraded holds a script error the visit continued past.
	Degraded error

	// FallbackRan is true when the fallback heuristics were evaluated.
	FallbackRan bool

	Interaction interaction.Result
}

// Visitor runs the visit sequence: navigate, wait, click, inject, await,
// fallback, interact.
type Visitor struct {
	config    *Config
	builder   *script.Builder
	simulator *interaction.Simulator
	fallback  string
}

// NewVisitor creates a visitor. fallback is the page script evaluated when a
// program does not report success; empty disables it regardless of Config.
func NewVisitor(config *Config, builder *script.Builder, simulator *interaction.Simulator, fallback string) *Visitor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Visitor{
		config:    config,
		builder:   builder,
		simulator: simulator,
		fallback:  fallback,
	}
}

// Visit drives drv through one visit of t with program p. The returned error
// is meant for failure.Classify; script errors classified as Proceed are
// reported in Report.Degraded instead.
func (v *Visitor) Visit(ctx context.Context, drv browser.Driver, t target.Target, p *script.Program) (*Report, error) {
	logger := logging.From(ctx)
	report := &Report{}

	logger.Info("Visiting", "url", t.URL)
	if err := drv.Navigate(ctx, t.URL); err != nil {
		return report, err
	}

	if err := v.waitReady(ctx, drv); err != nil {
		return report, err
	}

	v.gesture(ctx, drv)

	if err := v.inject(ctx, drv, p, report); err != nil {
		return report, err
	}

	if report.Status != script.StatusSuccess && v.config.Fallback && v.fallback != "" {
		if err := v.runFallback(ctx, drv); err != nil {
			return report, err
		}
		report.FallbackRan = true
	}

	stay := minDuration(v.config.VisitSleep, v.config.MaxVisitTime)
	logger.Debug("Interacting", "duration", stay)
	report.Interaction = v.simulator.Run(ctx, drv, stay)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	logger.Info("Visit finished",
		"status", report.Status,
		"key_presses", report.Interaction.KeyPresses,
		"fallback", report.FallbackRan,
	)
	return report, nil
}

// waitReady waits for the page to finish loading. Running out of time is not
// an error: the visit continues on whatever has loaded.
func (v *Visitor) waitReady(ctx context.Context, drv browser.Driver) error {
	limit := minDuration(v.config.ReadyTimeout, v.config.MaxVisitTime)
	if limit <= 0 {
		return nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := drv.WaitReady(readyCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(readyCtx.Err(), context.DeadlineExceeded):
		logging.From(ctx).Info("Page not fully loaded, continuing", "waited", limit)
		return nil
	default:
		return err
	}
}

// gesture clicks the viewport centre so pages treat later playback as user
// initiated.
func (v *Visitor) gesture(ctx context.Context, drv browser.Driver) {
	logger := logging.From(ctx)

	width, height, err := drv.ViewportSize(ctx)
	if err != nil {
		logger.Debug("Centre click skipped", "error", err)
		return
	}
	if err := drv.Click(ctx, float64(width)/2, float64(height)/2); err != nil {
		logger.Debug("Centre click failed", "error", err)
	}
}

// inject evaluates the program and, when the async contract applies, awaits
// its status.
func (v *Visitor) inject(ctx context.Context, drv browser.Driver, p *script.Program, report *Report) error {
	logger := logging.From(ctx).With("script", p.Path, "mode", p.Mode)

	source, err := v.builder.Build(p)
	if err != nil {
		return err
	}

	result, err := drv.Evaluate(ctx, source)
	if err != nil {
		err = withDomain(err, p.Domain)
		if failure.Classify(err) != failure.Proceed {
			return err
		}
		logger.Warn("Script failed, continuing without it", "error", err)
		report.Degraded = err
		return nil
	}
	logger.Debug("Script evaluated", "result", result)

	async, err := v.isAsync(ctx, drv, p)
	if err != nil {
		return err
	}
	if !async {
		return nil
	}
	report.Async = true

	status, err := v.await(ctx, drv, p)
	if err != nil {
		if failure.Classify(err) != failure.Proceed {
			return err
		}
		logger.Warn("Entry point failed", "entry", p.EntryPoint, "error", err)
		report.Degraded = err
		return nil
	}

	report.Status = status
	logger.Info("Script reported", "status", status)
	if status == script.StatusRestart {
		return failure.ErrRestartRequested
	}
	return nil
}

// isAsync decides whether the async contract applies to p.
func (v *Visitor) isAsync(ctx context.Context, drv browser.Driver, p *script.Program) (bool, error) {
	switch p.Mode {
	case script.ModeSync:
		return false, nil
	case script.ModeAsync:
		return true, nil
	}

	kind, err := drv.EvaluateAsync(ctx, v.builder.Probe(p.EntryPoint))
	if err != nil {
		err = withDomain(err, p.Domain)
		if failure.Classify(err) != failure.Proceed {
			return false, err
		}
		return false, nil
	}
	return kind == "function", nil
}

// await invokes the entry point once and parses the value it settles to.
// A program timeout tightens the session script timeout.
func (v *Visitor) await(ctx context.Context, drv browser.Driver, p *script.Program) (script.Status, error) {
	callCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	value, err := drv.EvaluateAsync(callCtx, v.builder.Invocation(p.EntryPoint))
	if err != nil {
		if ctx.Err() != nil {
			return script.StatusNoSignal, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return script.StatusNoSignal, &failure.NavigationTimeoutError{
				Op:  fmt.Sprintf("awaiting %s on %s", p.EntryPoint, p.Domain),
				Err: err,
			}
		}
		return script.StatusNoSignal, withDomain(err, p.Domain)
	}

	logging.From(ctx).Debug("Entry point settled", "entry", p.EntryPoint, "value", value)
	return script.ParseStatus(value), nil
}

// runFallback evaluates the fallback heuristics. Only failures that point at
// a broken browser are returned.
func (v *Visitor) runFallback(ctx context.Context, drv browser.Driver) error {
	logger := logging.From(ctx)

	summary, err := drv.Evaluate(ctx, v.fallback)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if failure.Classify(err) == failure.Restart {
			return err
		}
		logger.Debug("Fallback failed", "error", err)
		return nil
	}
	logger.Debug("Fallback ran", "result", summary)
	return nil
}

// withDomain attaches domain to a script execution error.
func withDomain(err error, domain string) error {
	var scriptErr *failure.ScriptExecutionError
	if errors.As(err, &scriptErr) && scriptErr.Domain == "" {
		scriptErr.Domain = domain
	}
	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
