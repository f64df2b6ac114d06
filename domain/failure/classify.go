package failure

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Verdict is the recovery action chosen for a failed visit.
type Verdict int

const (
	// Proceed keeps the visit (or its result) as is.
	Proceed Verdict = iota
	// Restart discards the session and retries the target.
	Restart
	// Skip abandons the target and keeps the session.
	Skip
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "Proceed"
	case Restart:
		return "Restart"
	case Skip:
		return "Skip"
	default:
		return "Unknown"
	}
}

// Classify maps an error to a verdict. The table is evaluated top to bottom,
// most specific category first; anything unrecognised is skipped so a run
// always makes forward progress through its target list.
func Classify(err error) Verdict {
	switch {
	case err == nil:
		return Proceed
	case errors.Is(err, ErrRestartRequested):
		return Restart
	case isTimeout(err):
		return Restart
	case isProtocol(err):
		return Restart
	case isScriptExecution(err):
		return Proceed
	default:
		return Skip
	}
}

func isTimeout(err error) bool {
	var navErr *NavigationTimeoutError
	if errors.As(err, &navErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isProtocol(err error) bool {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isScriptExecution(err error) bool {
	var scriptErr *ScriptExecutionError
	return errors.As(err, &scriptErr)
}
