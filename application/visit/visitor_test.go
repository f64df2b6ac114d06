package visit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"visitly-go/application/interaction"
	"visitly-go/domain/failure"
	"visitly-go/domain/script"
	"visitly-go/domain/target"
	"visitly-go/infrastructure/browser/browsertest"
	"visitly-go/resources"
)

const fallbackScript = "/* fallback */"

func newTestVisitor(t *testing.T, cfg *Config) *Visitor {
	t.Helper()

	builder, err := script.NewBuilder(resources.Bootstrap)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sim := interaction.NewSimulator(
		&interaction.Config{Chance: 0, MinInterval: time.Second, MaxInterval: time.Second},
		nil,
		interaction.WithClock(func() time.Time { return now }),
		interaction.WithSleep(func(ctx context.Context, d time.Duration) error {
			now = now.Add(d)
			return ctx.Err()
		}),
		interaction.WithRand(rand.New(rand.NewSource(1))),
	)

	if cfg == nil {
		cfg = &Config{VisitSleep: 3 * time.Second, MaxVisitTime: 10 * time.Second, ReadyTimeout: time.Second, Fallback: true}
	}
	return NewVisitor(cfg, builder, sim, fallbackScript)
}

func testTarget(t *testing.T) target.Target {
	t.Helper()
	tg, err := target.Parse("a.example.com")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return tg
}

func program(mode script.Mode) *script.Program {
	return &script.Program{
		Domain:     "example.com",
		Path:       "scripts/example.com/main.js",
		Source:     "window.automatePage = async () => 'success';",
		Mode:       mode,
		EntryPoint: script.DefaultEntryPoint,
		Overlay:    true,
	}
}

// asyncReplies answers the probe with kind and the invocation with value.
func asyncReplies(kind, value string) func(string) (string, error) {
	return func(expr string) (string, error) {
		if strings.HasPrefix(expr, "typeof") {
			return kind, nil
		}
		return value, nil
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.VisitSleep != 300*time.Second || cfg.MaxVisitTime != 300*time.Second {
		t.Errorf("VisitSleep/MaxVisitTime = %v/%v, want 300s/300s", cfg.VisitSleep, cfg.MaxVisitTime)
	}
	if cfg.ReadyTimeout != 30*time.Second {
		t.Errorf("ReadyTimeout = %v, want 30s", cfg.ReadyTimeout)
	}
	if !cfg.Fallback {
		t.Error("Fallback = false, want true")
	}
}

func TestVisitor_SyncSequence(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()

	var evaluated []string
	drv.OnEvaluate = func(expr string) (string, error) {
		evaluated = append(evaluated, expr)
		return "undefined", nil
	}

	report, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync))
	if err != nil {
		t.Fatalf("Visit() error = %v", err)
	}

	want := []string{"Navigate https://a.example.com", "WaitReady", "Click 640,400", "Evaluate", "Evaluate"}
	if diff := cmp.Diff(want, drv.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(evaluated[0], "__visitly") || !strings.HasSuffix(evaluated[0], program(script.ModeSync).Source) {
		t.Error("first evaluation should be the bootstrap followed by the payload")
	}
	if evaluated[1] != fallbackScript {
		t.Errorf("second evaluation = %q, want the fallback", evaluated[1])
	}
	if report.Async || !report.FallbackRan || report.Status != script.StatusNoSignal {
		t.Errorf("report = %+v, want sync with fallback", report)
	}
	if report.Interaction.Iterations != 3 {
		t.Errorf("interaction iterations = %d, want 3", report.Interaction.Iterations)
	}
}

func TestVisitor_AsyncContract(t *testing.T) {
	tests := []struct {
		name         string
		mode         script.Mode
		probe        string
		value        string
		wantErr      error
		wantAsync    bool
		wantStatus   script.Status
		wantFallback bool
	}{
		{"async success", script.ModeAsync, "", "success", nil, true, script.StatusSuccess, false},
		{"async success wrong case", script.ModeAsync, "", "Success", nil, true, script.StatusNoSignal, true},
		{"async success padded", script.ModeAsync, "", "  success\n", nil, true, script.StatusNoSignal, true},
		{"async restart upper case", script.ModeAsync, "", "RESTART", nil, true, script.StatusNoSignal, true},
		{"async restart", script.ModeAsync, "", "restart", failure.ErrRestartRequested, true, script.StatusRestart, false},
		{"async error token", script.ModeAsync, "", "error: button missing", nil, true, script.StatusNoSignal, true},
		{"async empty", script.ModeAsync, "", "", nil, true, script.StatusNoSignal, true},
		{"auto with entry point", script.ModeAuto, "function", "success", nil, true, script.StatusSuccess, false},
		{"auto without entry point", script.ModeAuto, "undefined", "success", nil, false, script.StatusNoSignal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVisitor(t, nil)
			drv := browsertest.New()
			drv.OnEvaluateAsync = asyncReplies(tt.probe, tt.value)

			report, err := v.Visit(context.Background(), drv, testTarget(t), program(tt.mode))

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Visit() error = %v, want %v", err, tt.wantErr)
			}
			if report.Async != tt.wantAsync {
				t.Errorf("Async = %v, want %v", report.Async, tt.wantAsync)
			}
			if report.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", report.Status, tt.wantStatus)
			}
			if report.FallbackRan != tt.wantFallback {
				t.Errorf("FallbackRan = %v, want %v", report.FallbackRan, tt.wantFallback)
			}
		})
	}
}

func TestVisitor_InvokesEntryPointOnce(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()

	invocations := 0
	drv.OnEvaluateAsync = func(expr string) (string, error) {
		if strings.HasPrefix(expr, "typeof") {
			return "function", nil
		}
		invocations++
		if !strings.Contains(expr, `"automatePage"`) {
			t.Errorf("invocation = %q, want the entry point name", expr)
		}
		return "success", nil
	}

	if _, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeAuto)); err != nil {
		t.Fatalf("Visit() error = %v", err)
	}
	if invocations != 1 {
		t.Errorf("invocations = %d, want 1", invocations)
	}
}

func TestVisitor_NavigationFailure(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()
	drv.OnNavigate = func(url string) error {
		return &failure.NavigationTimeoutError{Op: "navigate", Err: context.DeadlineExceeded}
	}

	_, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync))

	if failure.Classify(err) != failure.Restart {
		t.Errorf("Classify(%v) = %v, want Restart", err, failure.Classify(err))
	}
	if drv.CallCount("Evaluate") != 0 {
		t.Error("nothing should be injected after a failed navigation")
	}
}

func TestVisitor_ReadyTimeoutIsNotFatal(t *testing.T) {
	v := newTestVisitor(t, &Config{VisitSleep: time.Second, MaxVisitTime: 10 * time.Second, ReadyTimeout: 10 * time.Millisecond, Fallback: true})
	drv := browsertest.New()
	drv.OnWaitReady = func(ctx context.Context) error {
		<-ctx.Done()
		return fmt.Errorf("wait ready: %w", ctx.Err())
	}

	if _, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync)); err != nil {
		t.Fatalf("Visit() error = %v, want nil", err)
	}
	if drv.CallCount("Evaluate") == 0 {
		t.Error("program should be injected after a readiness timeout")
	}
}

func TestVisitor_ReadyWaitUsesShorterLimit(t *testing.T) {
	v := newTestVisitor(t, &Config{VisitSleep: time.Second, MaxVisitTime: 20 * time.Millisecond, ReadyTimeout: time.Hour})
	drv := browsertest.New()

	var limit time.Duration
	drv.OnWaitReady = func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("WaitReady ctx has no deadline")
		}
		limit = time.Until(deadline)
		return nil
	}

	if _, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync)); err != nil {
		t.Fatalf("Visit() error = %v", err)
	}
	if limit > 20*time.Millisecond {
		t.Errorf("ready limit = %v, want <= MaxVisitTime", limit)
	}
}

func TestVisitor_ReadyProtocolErrorIsFatal(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()
	drv.OnWaitReady = func(ctx context.Context) error {
		return &failure.ProtocolError{Op: "wait ready", Err: errors.New("target closed")}
	}

	_, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync))
	if failure.Classify(err) != failure.Restart {
		t.Errorf("Classify(%v) = %v, want Restart", err, failure.Classify(err))
	}
}

func TestVisitor_ScriptExceptionDegrades(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()

	calls := 0
	drv.OnEvaluate = func(expr string) (string, error) {
		calls++
		if calls == 1 {
			return "", &failure.ScriptExecutionError{Err: errors.New("ReferenceError: foo is not defined")}
		}
		return "ok", nil
	}

	report, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeAsync))
	if err != nil {
		t.Fatalf("Visit() error = %v, want nil", err)
	}

	var scriptErr *failure.ScriptExecutionError
	if !errors.As(report.Degraded, &scriptErr) {
		t.Fatalf("Degraded = %v, want *failure.ScriptExecutionError", report.Degraded)
	}
	if scriptErr.Domain != "example.com" {
		t.Errorf("Domain = %q, want example.com", scriptErr.Domain)
	}
	if report.Async {
		t.Error("async contract should not run after the program threw")
	}
	if !report.FallbackRan {
		t.Error("fallback should run for a degraded visit")
	}
}

func TestVisitor_ScriptProtocolErrorFails(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()
	drv.OnEvaluate = func(expr string) (string, error) {
		return "", &failure.ProtocolError{Op: "evaluate", Err: errors.New("websocket closed")}
	}

	_, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync))
	if failure.Classify(err) != failure.Restart {
		t.Errorf("Classify(%v) = %v, want Restart", err, failure.Classify(err))
	}
}

func TestVisitor_ClickFailureIgnored(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()
	drv.OnClick = func(x, y float64) error { return errors.New("no target") }

	if _, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync)); err != nil {
		t.Fatalf("Visit() error = %v, want nil", err)
	}
}

func TestVisitor_FallbackDisabled(t *testing.T) {
	v := newTestVisitor(t, &Config{VisitSleep: time.Second, MaxVisitTime: time.Second, ReadyTimeout: time.Second, Fallback: false})
	drv := browsertest.New()

	report, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync))
	if err != nil {
		t.Fatalf("Visit() error = %v", err)
	}
	if report.FallbackRan || drv.CallCount("Evaluate") != 1 {
		t.Errorf("FallbackRan = %v, evaluations = %d, want false/1", report.FallbackRan, drv.CallCount("Evaluate"))
	}
}

func TestVisitor_FallbackErrorIgnored(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()
	drv.OnEvaluate = func(expr string) (string, error) {
		if expr == fallbackScript {
			return "", &failure.ScriptExecutionError{Err: errors.New("TypeError")}
		}
		return "undefined", nil
	}

	if _, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync)); err != nil {
		t.Fatalf("Visit() error = %v, want nil", err)
	}
}

func TestVisitor_StayIsCappedByMaxVisitTime(t *testing.T) {
	v := newTestVisitor(t, &Config{VisitSleep: time.Minute, MaxVisitTime: 2 * time.Second, ReadyTimeout: time.Second})
	drv := browsertest.New()

	report, err := v.Visit(context.Background(), drv, testTarget(t), program(script.ModeSync))
	if err != nil {
		t.Fatalf("Visit() error = %v", err)
	}
	if report.Interaction.Iterations != 2 {
		t.Errorf("interaction iterations = %d, want 2", report.Interaction.Iterations)
	}
}

func TestVisitor_Cancelled(t *testing.T) {
	v := newTestVisitor(t, nil)
	drv := browsertest.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drv.OnClick = func(x, y float64) error {
		cancel()
		return nil
	}

	_, err := v.Visit(ctx, drv, testTarget(t), program(script.ModeSync))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Visit() error = %v, want context.Canceled", err)
	}
}
