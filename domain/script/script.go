// Package script resolves and assembles the per-domain programs injected into pages.
package script

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultFileName is the program file looked up under each domain directory.
	DefaultFileName = "main.js"

	// DefaultEntryPoint is the global function the async contract invokes.
	DefaultEntryPoint = "automatePage"

	// ManifestFileName holds optional per-domain overrides.
	ManifestFileName = "manifest.yaml"
)

// ErrNotFound reports that no program exists for a domain. It is a normal outcome.
var ErrNotFound = errors.New("no script for domain")

// Mode selects the injection contract.
type Mode string

const (
	// ModeAuto evaluates the program and applies the async contract when the
	// entry point turns out to be defined.
	ModeAuto Mode = "auto"
	// ModeSync evaluates the program once and ignores its result.
	ModeSync Mode = "sync"
	// ModeAsync evaluates the program and awaits the entry point's status.
	ModeAsync Mode = "async"
)

// ParseMode converts a configuration value to a Mode. Empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeSync:
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", fmt.Errorf("unknown script mode %q", s)
	}
}

// Program is one domain's automation payload, read fresh for every attempt.
type Program struct {
	// Domain is the root domain the program was resolved for
	Domain string

	// Path is the file the source was read from
	Path string

	// Source is the payload text, without the bootstrap
	Source string

	// Mode is the injection contract to apply
	Mode Mode

	// EntryPoint is the global function invoked by the async contract
	EntryPoint string

	// Overlay shows the on-page status box
	Overlay bool

	// Timeout optionally tightens the async wait below the session script timeout
	Timeout time.Duration
}

// Status is the outcome an async program reports.
type Status int

const (
	// StatusNoSignal covers every value other than a recognised token.
	StatusNoSignal Status = iota
	// StatusSuccess means the program did its job; fallback heuristics are skipped.
	StatusSuccess
	// StatusRestart asks the host to discard the session and retry.
	StatusRestart
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRestart:
		return "restart"
	default:
		return "no-signal"
	}
}

// ParseStatus maps the settled value of an async program to a Status.
// Only the exact tokens "success" and "restart" carry a signal.
func ParseStatus(value string) Status {
	switch value {
	case "success":
		return StatusSuccess
	case "restart":
		return StatusRestart
	default:
		return StatusNoSignal
	}
}
