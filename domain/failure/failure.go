// Package failure defines the error taxonomy of a visit and the classifier that
// maps a caught error to a recovery verdict.
package failure

import (
	"errors"
	"fmt"
)

// ErrRestartRequested is returned when an injected program asks the host to
// discard the session and retry the target.
var ErrRestartRequested = errors.New("injected program requested a restart")

// SessionCreationError is returned after every browser creation attempt failed.
type SessionCreationError struct {
	Attempts int
	Err      error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("failed to create browser session after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SessionCreationError) Unwrap() error {
	return e.Err
}

// NavigationTimeoutError reports a page load, read or script wait that ran out of time.
type NavigationTimeoutError struct {
	Op  string
	Err error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *NavigationTimeoutError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a broken connection to the browser.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: browser protocol failure: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ScriptExecutionError reports an exception thrown by injected page code.
type ScriptExecutionError struct {
	Domain string
	Err    error
}

func (e *ScriptExecutionError) Error() string {
	if e.Domain == "" {
		return fmt.Sprintf("script execution failed: %v", e.Err)
	}
	return fmt.Sprintf("script execution failed on %s: %v", e.Domain, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error {
	return e.Err
}
