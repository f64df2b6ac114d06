// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"visitly-go/infrastructure/browser"
)

// Driver is a scriptable fake browser. Nil hooks succeed.
type Driver struct {
	OnStart         func() error
	OnNavigate      func(url string) error
	OnWaitReady     func(ctx context.Context) error
	OnClick         func(x, y float64) error
	OnPressKey      func(key string) error
	OnPressKeyAt    func(key string, x, y float64) error
	OnEvaluate      func(expression string) (string, error)
	OnEvaluateAsync func(expression string) (string, error)

	Width  int
	Height int

	// ScrollY is how far the page is scrolled down. The body's top edge sits
	// at -ScrollY in the viewport.
	ScrollY float64

	mu      sync.Mutex
	running bool
	calls   []string
	factory *Factory
}

// New returns a fake with a 1280x800 viewport.
func New() *Driver {
	return &Driver{Width: 1280, Height: 800}
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) record(format string, args ...any) {
	d.mu.Lock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

// Calls returns the recorded calls in order, e.g. "Navigate https://a.example".
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallCount returns how many recorded calls start with method.
func (d *Driver) CallCount(method string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == method || strings.HasPrefix(c, method+" ") {
			n++
		}
	}
	return n
}

func (d *Driver) Start(ctx context.Context) error {
	d.record("Start")
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.OnStart != nil {
		if err := d.OnStart(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	if d.factory != nil {
		d.factory.started()
	}
	return nil
}

func (d *Driver) Stop() error {
	d.record("Stop")
	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()
	if wasRunning && d.factory != nil {
		d.factory.stopped()
	}
	return nil
}

func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.record("Navigate %s", url)
	if d.OnNavigate != nil {
		return d.OnNavigate(url)
	}
	return nil
}

func (d *Driver) WaitReady(ctx context.Context) error {
	d.record("WaitReady")
	if d.OnWaitReady != nil {
		return d.OnWaitReady(ctx)
	}
	return nil
}

func (d *Driver) ViewportSize(ctx context.Context) (int, int, error) {
	return d.Width, d.Height, nil
}

func (d *Driver) Click(ctx context.Context, x, y float64) error {
	d.record("Click %.0f,%.0f", x, y)
	if d.OnClick != nil {
		return d.OnClick(x, y)
	}
	return nil
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	d.record("PressKey %q", key)
	if d.OnPressKey != nil {
		return d.OnPressKey(key)
	}
	return nil
}

// PressKeyAt applies the same bounds check as the real driver unless
// OnPressKeyAt is set.
func (d *Driver) PressKeyAt(ctx context.Context, key string, dx, dy float64) error {
	d.record("PressKeyAt %q %.0f,%.0f", key, dx, dy)
	if d.OnPressKeyAt != nil {
		return d.OnPressKeyAt(key, dx, dy)
	}
	y := dy - d.ScrollY
	if dx < 0 || y < 0 || dx >= float64(d.Width) || y >= float64(d.Height) {
		return fmt.Errorf("press key at body offset (%.0f, %.0f): %w", dx, dy, browser.ErrOutOfBounds)
	}
	return nil
}

func (d *Driver) Evaluate(ctx context.Context, expression string) (string, error) {
	d.record("Evaluate")
	if d.OnEvaluate != nil {
		return d.OnEvaluate(expression)
	}
	return "undefined", nil
}

func (d *Driver) EvaluateAsync(ctx context.Context, expression string) (string, error) {
	d.record("EvaluateAsync")
	if d.OnEvaluateAsync != nil {
		return d.OnEvaluateAsync(expression)
	}
	return "", nil
}

// Factory hands out fakes and tracks how many browsers are live at once.
type Factory struct {
	// Configure, when set, prepares the n-th driver (zero based) before use.
	Configure func(n int, d *Driver)

	mu      sync.Mutex
	created []*Driver
	live    int
	maxLive int
}

// Driver creates the next fake. Its signature matches session.DriverFactory.
func (f *Factory) Driver() browser.Driver {
	d := New()
	d.factory = f

	f.mu.Lock()
	n := len(f.created)
	f.created = append(f.created, d)
	f.mu.Unlock()

	if f.Configure != nil {
		f.Configure(n, d)
	}
	return d
}

// Created returns every driver handed out so far.
func (f *Factory) Created() []*Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Driver, len(f.created))
	copy(out, f.created)
	return out
}

// Live returns the number of started, not yet stopped drivers.
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// MaxLive returns the highest Live value observed.
func (f *Factory) MaxLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

func (f *Factory) started() {
	f.mu.Lock()
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	f.mu.Unlock()
}

func (f *Factory) stopped() {
	f.mu.Lock()
	f.live--
	f.mu.Unlock()
}
