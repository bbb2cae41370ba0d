// Package image defines the contract for AI image-edit providers.
package image

import "context"

// EditRequest carries one repaint request: the textual prompt, the
// normalized source photo and an optional mask marking the editable area.
type EditRequest struct {
	Prompt string
	Image  []byte
	Mask   []byte
}

// Result is the provider-independent outcome: the edited image re-encoded
// as a base64 data URL, ready to be persisted as the record's data field.
type Result struct {
	DataURL string
}

// Generator produces an edited image from a prompt and source photo.
// Implementations return domain.ErrMissingAPIKey when unconfigured and
// *domain.ProviderError for upstream failures so the caller can persist
// the provider's message verbatim.
type Generator interface {
	Generate(ctx context.Context, req EditRequest) (*Result, error)
}
