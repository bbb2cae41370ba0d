package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidUpload   = errors.New("invalid upload")
	ErrMissingAPIKey   = errors.New("generation api key is not configured")
	ErrProviderFailure = errors.New("provider failure")
	ErrQueueFull       = errors.New("job queue is full")
)

// ProviderError carries the upstream provider's message so that it can be
// persisted verbatim as a record's terminal error state.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "image generation failed"
	}
	return e.Message
}

// Is makes errors.Is(err, ErrProviderFailure) hold for provider errors.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailure
}
