package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"visitly-go/domain/failure"
)

const (
	clickTimeout      = 5 * time.Second
	keyTimeout        = 5 * time.Second
	readyPollInterval = 100 * time.Millisecond
	wsURLReadTimeout  = 30 * time.Second

	// closeTimeout bounds the graceful close before the process is killed.
	closeTimeout = 3 * time.Second
)

// ChromeDPDriver implements Driver using chromedp.
type ChromeDPDriver struct {
	config      *DriverConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	running     bool
}

// NewChromeDPDriver creates a new ChromeDP-based browser driver.
func NewChromeDPDriver(config *DriverConfig) *ChromeDPDriver {
	if config == nil {
		config = DefaultDriverConfig()
	}
	return &ChromeDPDriver{
		config: config,
	}
}

// buildExecAllocatorOptions builds chromedp options from config.
func (d *ChromeDPDriver) buildExecAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("hide-scrollbars", d.config.HideScrollbars),
		chromedp.Flag("mute-audio", d.config.MuteAudio),
		chromedp.Flag("disable-gpu", d.config.DisableGPU),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", d.config.IgnoreTLSErrors),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.WindowSize(d.config.WindowWidth, d.config.WindowHeight),
		chromedp.WSURLReadTimeout(wsURLReadTimeout),
	)

	if d.config.SuppressAutomation {
		opts = append(opts,
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
	}
	if d.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.ExecPath))
	}
	if d.config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(d.config.UserDataDir))
	}

	return opts
}

// Start launches the browser and registers the init scripts.
func (d *ChromeDPDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("browser already running")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Create allocator context from context.Background() to ensure browser lifecycle
	// is independent of the caller's context
	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(
		context.Background(),
		d.buildExecAllocatorOptions()...,
	)
	d.ctx, d.cancel = chromedp.NewContext(d.allocCtx)

	// The first Run must use the browser context itself; a derived timeout
	// context would tear the browser down when it expires.
	stop := context.AfterFunc(ctx, d.cancel)
	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, script := range d.config.InitScripts {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to register init script: %w", err)
			}
		}
		return nil
	}))
	stop()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	d.running = true
	return nil
}

// Stop closes the browser and returns once its process has exited. A
// browser that does not close within closeTimeout is killed.
func (d *ChromeDPDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	err := d.closeBrowser()
	d.cleanup()
	return err
}

func (d *ChromeDPDriver) closeBrowser() error {
	browserCtx, kill := d.ctx, d.allocCancel
	closed := make(chan error, 1)
	go func() {
		closed <- chromedp.Cancel(browserCtx)
	}()

	select {
	case err := <-closed:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close browser: %w", err)
		}
		return nil
	case <-time.After(closeTimeout):
		// Cancelling the allocator kills the process and waits for it to exit.
		kill()
		<-closed
		return fmt.Errorf("browser did not close within %s and was killed", closeTimeout)
	}
}

func (d *ChromeDPDriver) cleanup() {
	d.running = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.ctx = nil
	d.allocCtx = nil
}

// IsRunning returns true if the browser is active.
func (d *ChromeDPDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// run executes actions on the browser context. The run ends when timeout
// elapses (if positive) or when the caller's ctx is done, whichever is first.
func (d *ChromeDPDriver) run(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	browserCtx := d.ctx
	running := d.running
	d.mu.Unlock()

	if !running || browserCtx == nil {
		return &failure.ProtocolError{Op: op, Err: ErrNotRunning}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(browserCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(browserCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	return wrapError(ctx, browserCtx, op, err)
}

// wrapError maps chromedp failures onto the visit failure taxonomy.
func wrapError(callerCtx, browserCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	var exc *runtime.ExceptionDetails
	switch {
	case callerCtx.Err() != nil:
		// Caller gave up; report its reason unchanged.
		return fmt.Errorf("%s: %w", op, callerCtx.Err())
	case errors.As(err, &exc):
		return &failure.ScriptExecutionError{Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &failure.NavigationTimeoutError{Op: op, Err: err}
	case errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrInvalidWebsocketMessage),
		errors.Is(err, chromedp.ErrInvalidTarget):
		return &failure.ProtocolError{Op: op, Err: err}
	case errors.Is(err, context.Canceled) || browserCtx.Err() != nil:
		// The browser context died underneath us.
		return &failure.ProtocolError{Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Navigate navigates to the specified URL.
func (d *ChromeDPDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, "navigate", d.config.PageLoadTimeout, chromedp.Navigate(url))
}

// WaitReady polls document.readyState until the page reports complete.
func (d *ChromeDPDriver) WaitReady(ctx context.Context) error {
	return d.run(ctx, "wait ready", 0, chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(readyPollInterval)
		defer ticker.Stop()

		for {
			var state string
			if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
				return err
			}
			if state == "complete" {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}))
}

// ViewportSize returns the inner size of the current page.
func (d *ChromeDPDriver) ViewportSize(ctx context.Context) (int, int, error) {
	var dims []int
	err := d.run(ctx, "viewport size", d.config.ScriptTimeout,
		chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &dims),
	)
	if err != nil {
		return 0, 0, err
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("viewport size: unexpected result %v", dims)
	}
	return dims[0], dims[1], nil
}

// bodyFrameJS reads the body's position in the viewport and the viewport size.
const bodyFrameJS = `(() => {
	const r = document.body ? document.body.getBoundingClientRect() : {left: 0, top: 0};
	return {left: r.left, top: r.top, width: window.innerWidth, height: window.innerHeight};
})()`

// bodyFrame places the document body within the viewport.
type bodyFrame struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// toViewport converts a body offset to viewport coordinates.
func (f bodyFrame) toViewport(dx, dy float64) (float64, float64, error) {
	x, y := f.Left+dx, f.Top+dy
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0, 0, fmt.Errorf("press key at body offset (%.0f, %.0f), viewport point (%.0f, %.0f) in %.0fx%.0f: %w",
			dx, dy, x, y, f.Width, f.Height, ErrOutOfBounds)
	}
	return x, y, nil
}

// Click performs a mouse click at the specified coordinates.
func (d *ChromeDPDriver) Click(ctx context.Context, x, y float64) error {
	return d.run(ctx, "click", clickTimeout,
		chromedp.MouseClickXY(x, y, chromedp.ButtonLeft),
	)
}

// PressKey dispatches a key press to the focused element.
func (d *ChromeDPDriver) PressKey(ctx context.Context, key string) error {
	return d.run(ctx, "press key", keyTimeout, chromedp.KeyEvent(key))
}

// PressKeyAt moves the pointer to (x, y) and dispatches a key press there.
func (d *ChromeDPDriver) PressKeyAt(ctx context.Context, key string, dx, dy float64) error {
	var frame bodyFrame
	if err := d.run(ctx, "body frame", d.config.ScriptTimeout, chromedp.Evaluate(bodyFrameJS, &frame)); err != nil {
		return err
	}
	x, y, err := frame.toViewport(dx, dy)
	if err != nil {
		return err
	}

	return d.run(ctx, "press key at", keyTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
		chromedp.KeyEvent(key),
	)
}

// Evaluate runs expression in the page and describes its result.
func (d *ChromeDPDriver) Evaluate(ctx context.Context, expression string) (string, error) {
	var obj *runtime.RemoteObject
	err := d.run(ctx, "evaluate", d.config.ScriptTimeout, chromedp.Evaluate(expression, &obj))
	if err != nil {
		return "", err
	}
	return describe(obj), nil
}

// EvaluateAsync runs expression and awaits the promise it yields.
func (d *ChromeDPDriver) EvaluateAsync(ctx context.Context, expression string) (string, error) {
	var raw []byte
	err := d.run(ctx, "evaluate async", d.config.ScriptTimeout,
		chromedp.Evaluate(expression, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return "", err
	}
	return decodeValue(raw), nil
}

// describe renders a remote object for debug logs.
func describe(obj *runtime.RemoteObject) string {
	if obj == nil {
		return "undefined"
	}
	if obj.Description != "" {
		return obj.Description
	}
	if len(obj.Value) > 0 {
		return string(obj.Value)
	}
	return string(obj.Type)
}

// decodeValue unquotes JSON strings and passes other values through verbatim.
func decodeValue(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
