package domain

import "context"

// Store persists image records. Implementations are constructed once at
// startup and injected into the handlers and the job queue; they must be
// safe for concurrent use by in-flight requests.
//
// Writes that touch more than one underlying structure (the record itself
// plus its metadata) are atomic: either everything lands or nothing does.
type Store interface {
	// Put applies a partial update to the record with the given id,
	// creating it when absent. It is idempotent per id: only the supplied
	// fields overwrite prior values, and a non-nil Metadata replaces the
	// stored metadata in full.
	Put(ctx context.Context, id string, patch RecordPatch) error

	// Get returns the record with all direct fields plus decoded metadata,
	// or ErrNotFound when no record exists for id.
	Get(ctx context.Context, id string) (*Record, error)

	// GetField is a read optimization equivalent to Get(id) followed by a
	// field lookup. Direct fields come back as strings, metadata entries
	// in their decoded form. ErrNotFound covers both a missing record and
	// a missing field.
	GetField(ctx context.Context, id, field string) (any, error)

	// Delete removes the record and its metadata, returning the number of
	// records deleted (0 or 1).
	Delete(ctx context.Context, id string) (int, error)

	// Ping verifies the backing connection.
	Ping(ctx context.Context) error

	Close() error
}

// Direct field names understood by GetField across all drivers.
const (
	FieldData         = "data"
	FieldStatus       = "status"
	FieldFileName     = "fileName"
	FieldTimestamp    = "timestamp"
	FieldErrorMessage = "errorMessage"
)
