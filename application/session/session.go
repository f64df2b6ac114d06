// Package session owns the lifecycle of the browser sessions a run visits with.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"visitly-go/domain/failure"
	"visitly-go/infrastructure/browser"
)

// Session is one live browser. It is owned by a single caller at a time.
type Session struct {
	id        string
	driver    browser.Driver
	createdAt time.Time

	mu       sync.Mutex
	released bool
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Driver returns the browser driver.
func (s *Session) Driver() browser.Driver {
	return s.driver
}

// CreatedAt returns when the browser was started.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Released reports whether the session has been torn down.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// markReleased flips the released flag and reports whether this call did it.
func (s *Session) markReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	return true
}

// DriverFactory returns a fresh, not yet started driver.
type DriverFactory func() browser.Driver

// ManagerConfig holds session creation settings.
type ManagerConfig struct {
	// MaxCreationAttempts is the number of times Acquire tries to start a browser.
	MaxCreationAttempts int

	// CreationBackoffBase and CreationBackoffStep give the wait after failed
	// attempt n (1-based): base + n*step.
	CreationBackoffBase time.Duration
	CreationBackoffStep time.Duration

	// StartTimeout bounds a single browser start. Zero means no limit.
	StartTimeout time.Duration
}

// DefaultManagerConfig returns the default creation settings.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MaxCreationAttempts: 3,
		CreationBackoffBase: time.Second,
		CreationBackoffStep: 2 * time.Second,
		StartTimeout:        time.Minute,
	}
}

// Backoff returns the wait after the given failed attempt.
func (c *ManagerConfig) Backoff(attempt int) time.Duration {
	return c.CreationBackoffBase + time.Duration(attempt)*c.CreationBackoffStep
}

// Manager creates and tears down sessions.
type Manager struct {
	config  *ManagerConfig
	factory DriverFactory
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu   sync.Mutex
	live int
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithSleep replaces the context-aware sleep used between creation attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) { m.sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager.
func NewManager(config *ManagerConfig, factory DriverFactory, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		config:  config,
		factory: factory,
		logger:  logger.With("component", "session"),
		sleep:   sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire starts a new browser, retrying up to MaxCreationAttempts times.
// After the last failure it returns a *failure.SessionCreationError.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	attempts := m.config.MaxCreationAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := m.start(ctx)
		if err == nil {
			m.logger.Info("Browser session started", "session_id", s.id, "attempt", attempt)
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		wait := m.config.Backoff(attempt)
		m.logger.Warn("Browser creation failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
		if err := m.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	m.logger.Error("Browser creation failed", "attempts", attempts, "error", lastErr)
	return nil, &failure.SessionCreationError{Attempts: attempts, Err: lastErr}
}

// start runs one creation attempt. A half-started driver is stopped on failure.
func (m *Manager) start(ctx context.Context) (*Session, error) {
	drv := m.factory()

	startCtx := ctx
	if m.config.StartTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, m.config.StartTimeout)
		defer cancel()
	}

	if err := m.startDriver(startCtx, drv); err != nil {
		if stopErr := stopDriver(drv); stopErr != nil {
			m.logger.Debug("Failed to stop half-started browser", "error", stopErr)
		}
		return nil, err
	}

	m.mu.Lock()
	m.live++
	m.mu.Unlock()

	return &Session{
		id:        uuid.NewString(),
		driver:    drv,
		createdAt: m.now(),
	}, nil
}

// startDriver converts a panicking driver start into an error.
func (m *Manager) startDriver(ctx context.Context, drv browser.Driver) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser start panicked: %v", r)
		}
	}()
	return drv.Start(ctx)
}

// Release tears the session down and returns once the browser has stopped,
// so a following Acquire never overlaps it. It is idempotent, accepts nil and
// never panics; teardown failures are only logged.
func (m *Manager) Release(s *Session) {
	if s == nil || !s.markReleased() {
		return
	}

	logger := m.logger.With("session_id", s.id)
	started := m.now()
	err := stopDriver(s.driver)

	m.mu.Lock()
	m.live--
	m.mu.Unlock()

	if err != nil {
		logger.Warn("Browser teardown failed", "error", err, "took", m.now().Sub(started))
		return
	}
	logger.Info("Browser session released", "lifetime", m.now().Sub(s.createdAt).Round(time.Second))
}

func stopDriver(drv browser.Driver) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser stop panicked: %v", r)
		}
	}()
	if err := drv.Stop(); err != nil && !errors.Is(err, browser.ErrNotRunning) {
		return err
	}
	return nil
}

// Live returns the number of acquired, not yet released sessions.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

func sleep(ctx context.Context, d time.Duration) error {
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
