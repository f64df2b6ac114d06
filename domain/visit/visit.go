// Package visit defines the persisted record of a target's disposition.
package visit

import (
	"fmt"
	"time"
)

// Record is one target's final disposition within one pass.
type Record struct {
	// ID is the unique identifier (MongoDB ObjectID)
	ID string

	// RunID identifies the scheduler run
	RunID string

	// Pass is the 1-based pass number within the run
	Pass int

	// Target is the raw target list entry
	Target string

	// RootDomain is the domain the program was looked up for
	RootDomain string

	// Disposition is "Done" or "Skipped"
	Disposition string

	// Attempts is the number of visit attempts made
	Attempts int

	// Reason explains a skip; empty when Done
	Reason string

	// FinishedAt is when the disposition was reached
	FinishedAt time.Time
}

// Summary returns a single-line description for listings.
func (r *Record) Summary() string {
	line := fmt.Sprintf("%s  %-8s %-40s attempts=%d pass=%d",
		r.FinishedAt.Format(time.RFC3339), r.Disposition, r.Target, r.Attempts, r.Pass)
	if r.Reason != "" {
		line += "  (" + r.Reason + ")"
	}
	return line
}

// Query filters history lookups.
type Query struct {
	// RootDomain restricts results to one domain when set
	RootDomain string

	// Limit caps the number of records; zero means DefaultLimit
	Limit int
}

// DefaultLimit is the record cap when Query.Limit is zero.
const DefaultLimit = 50
