package visit

import "context"

// Repository defines the interface for visit history persistence.
type Repository interface {
	// Insert stores a record and sets its ID.
	Insert(ctx context.Context, record *Record) error

	// FindRecent returns records newest first.
	FindRecent(ctx context.Context, q Query) ([]*Record, error)
}
