// Package browser provides browser automation infrastructure.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotRunning is returned by page operations on a driver that was never
	// started or has been stopped.
	ErrNotRunning = errors.New("browser not running")

	// ErrOutOfBounds is returned by PressKeyAt when the point lies outside the viewport.
	// Body offsets leave the viewport once the page has scrolled past them.
	ErrOutOfBounds = errors.New("point outside the viewport")
)

// Driver defines the interface for browser automation.
// One Driver owns at most one browser process.
type Driver interface {
	// Start launches the browser instance.
	Start(ctx context.Context) error

	// Stop closes the browser and returns once its process has exited.
	Stop() error

	// IsRunning returns true if the browser is active.
	IsRunning() bool

	// Navigate loads url and waits for the load event, bounded by the page-load timeout.
	Navigate(ctx context.Context, url string) error

	// WaitReady blocks until document.readyState is "complete" or ctx ends.
	WaitReady(ctx context.Context) error

	// ViewportSize returns the inner size of the current page.
	ViewportSize(ctx context.Context) (width, height int, err error)

	// Click performs a mouse click at the specified coordinates.
	Click(ctx context.Context, x, y float64) error

	// PressKey dispatches a key press to the focused element.
	PressKey(ctx context.Context, key string) error

	// PressKeyAt moves the pointer to the offset (dx, dy) from the top-left
	// corner of the document body and dispatches a key press there.
	// Returns ErrOutOfBounds when that point is outside the viewport.
	PressKeyAt(ctx context.Context, key string, dx, dy float64) error

	// Evaluate runs expression in the page, bounded by the script timeout,
	// and returns a short description of its result.
	Evaluate(ctx context.Context, expression string) (string, error)

	// EvaluateAsync runs expression, awaits the promise it yields, and returns
	// the settled value. String values are returned unquoted.
	EvaluateAsync(ctx context.Context, expression string) (string, error)
}

// DriverConfig holds configuration for browser drivers.
type DriverConfig struct {
	// Headless runs the browser without a visible window.
	Headless bool

	// WindowWidth is the browser window width.
	WindowWidth int

	// WindowHeight is the browser window height.
	WindowHeight int

	// DisableGPU disables GPU acceleration.
	DisableGPU bool

	// NoSandbox disables the Chromium sandbox (required in most containers).
	NoSandbox bool

	// MuteAudio mutes browser audio.
	MuteAudio bool

	// IgnoreTLSErrors accepts invalid certificates.
	IgnoreTLSErrors bool

	// SuppressAutomation hides the usual automation signals from pages.
	SuppressAutomation bool

	// HideScrollbars hides scrollbars.
	HideScrollbars bool

	// ExecPath overrides the browser binary lookup.
	ExecPath string

	// UserDataDir specifies a custom user data directory.
	UserDataDir string

	// PageLoadTimeout bounds Navigate.
	PageLoadTimeout time.Duration

	// ScriptTimeout bounds Evaluate and EvaluateAsync.
	ScriptTimeout time.Duration

	// InitScripts are evaluated on every new document before page scripts run.
	InitScripts []string
}

// DefaultDriverConfig returns default browser configuration.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Headless:           true,
		WindowWidth:        1280,
		WindowHeight:       800,
		DisableGPU:         true,
		NoSandbox:          true,
		MuteAudio:          false,
		IgnoreTLSErrors:    true,
		SuppressAutomation: true,
		HideScrollbars:     false,
		PageLoadTimeout:    300 * time.Second,
		ScriptTimeout:      300 * time.Second,
	}
}
