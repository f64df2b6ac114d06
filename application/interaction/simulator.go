// Package interaction keeps a visited page busy with human-like key presses.
package interaction

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp/kb"

	"visitly-go/infrastructure/browser"
)

// Config holds interaction tuning.
type Config struct {
	// Chance is the probability of a key press per iteration, in [0, 1].
	Chance float64

	// MinInterval and MaxInterval bound the random pause after each iteration.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultConfig returns the default interaction tuning.
func DefaultConfig() *Config {
	return &Config{
		Chance:      0.1,
		MinInterval: 500 * time.Millisecond,
		MaxInterval: 2 * time.Second,
	}
}

// Result summarises one interaction run.
type Result struct {
	Iterations int
	KeyPresses int
	Fallbacks  int

	// Stopped is the error that ended the run early, if any.
	Stopped error
}

// Simulator presses PageDown/PageUp at random body offsets for a bounded time.
type Simulator struct {
	config *Config
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	rng    *rand.Rand
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Simulator) { s.sleep = sleep }
}

// WithRand replaces the random source.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) { s.rng = rng }
}

// NewSimulator creates a simulator.
func NewSimulator(config *Config, logger *slog.Logger, opts ...Option) *Simulator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		config: config,
		logger: logger.With("component", "interaction"),
		now:    time.Now,
		sleep:  Sleep,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run interacts with the page until duration has elapsed. It never fails:
// the first driver error ends the run and is reported in Result.Stopped.
func (s *Simulator) Run(ctx context.Context, drv browser.Driver, duration time.Duration) Result {
	var res Result
	deadline := s.now().Add(duration)

	for {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Stopped = err
			return res
		}
		res.Iterations++

		if s.rng.Float64() < s.config.Chance {
			fellBack, err := s.press(ctx, drv)
			if fellBack {
				res.Fallbacks++
			}
			if err != nil {
				s.logger.Debug("Interaction ended early", "error", err)
				res.Stopped = err
				return res
			}
			res.KeyPresses++
		}

		pause := s.interval()
		if pause > remaining {
			pause = remaining
		}
		if err := s.sleep(ctx, pause); err != nil {
			res.Stopped = err
			return res
		}
	}
}

// press sends PageDown or PageUp at a random offset from the body's corner,
// drawn within one viewport. Once the page has scrolled the point can lie
// outside the viewport, and the press falls back to an untargeted one.
func (s *Simulator) press(ctx context.Context, drv browser.Driver) (bool, error) {
	key, name := kb.PageDown, "PageDown"
	if s.rng.Intn(2) == 1 {
		key, name = kb.PageUp, "PageUp"
	}

	width, height, err := drv.ViewportSize(ctx)
	if err != nil {
		return false, err
	}
	x := s.rng.Float64() * float64(width)
	y := s.rng.Float64() * float64(height)

	err = drv.PressKeyAt(ctx, key, x, y)
	if errors.Is(err, browser.ErrOutOfBounds) {
		s.logger.Debug("Point rejected, pressing key without target", "key", name)
		if err := drv.PressKey(ctx, key); err != nil {
			return true, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Debug("Pressed key", "key", name)
	return false, nil
}

// interval draws a uniform pause in [MinInterval, MaxInterval].
func (s *Simulator) interval() time.Duration {
	lo, hi := s.config.MinInterval, s.config.MaxInterval
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
