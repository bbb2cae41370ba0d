package domain

// Status enumerates the lifecycle states of a submitted image.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Record is the stored representation of one submitted image and its
// processing outcome. Data holds the result encoded as a base64 data URL
// and stays empty while the record is pending. ErrorMessage is set only
// when Status is StatusError.
type Record struct {
	ID           string
	Data         string
	Status       Status
	FileName     string
	Timestamp    string
	ErrorMessage string
	Metadata     map[string]any
}

// RecordPatch describes a partial update applied by Store.Put. Nil fields
// keep their stored value. A non-nil Metadata map replaces the stored
// metadata wholesale; it is never merged.
type RecordPatch struct {
	Data         *string
	Status       *Status
	FileName     *string
	Timestamp    *string
	ErrorMessage *string
	Metadata     map[string]any
}

// Patch helpers keep call sites terse.

func String(s string) *string { return &s }

func StatusOf(s Status) *Status { return &s }
