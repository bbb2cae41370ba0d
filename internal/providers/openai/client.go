// Package openai adapts the OpenAI images/edits endpoint to the
// image.Generator contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	"github.com/DaanH/buildings-visualizer/internal/media"
	img "github.com/DaanH/buildings-visualizer/internal/providers/image"
)

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// Client calls the OpenAI image edit API and normalizes the result.
type Client struct {
	api    *openai.Client
	apiKey string
	model  string
	logger zerolog.Logger
}

// NewClient constructs a client. A missing API key is not an error here;
// Generate reports it as domain.ErrMissingAPIKey so the orchestrator can
// record a configuration failure instead of crashing at startup.
func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		cfg.BaseURL = base
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.CreateImageModelDallE2
	}
	// The zero-value logger discards everything, so an unset Options.Logger
	// just means a silent client.
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		apiKey: strings.TrimSpace(opts.APIKey),
		model:  model,
		logger: opts.Logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether remote calls can be made.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate submits the prompt, source image and optional mask and returns
// a single square 1024x1024 result as a PNG data URL.
func (c *Client) Generate(ctx context.Context, req img.EditRequest) (*img.Result, error) {
	if !c.HasCredentials() {
		return nil, domain.ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("openai: prompt is required")
	}
	if len(req.Image) == 0 {
		return nil, errors.New("openai: source image is required")
	}

	// The SDK takes *os.File for image payloads, so stage them in temp files.
	imageFile, err := stageTempPNG(req.Image)
	if err != nil {
		return nil, fmt.Errorf("openai: stage image: %w", err)
	}
	defer discard(imageFile)

	editReq := openai.ImageEditRequest{
		Image:          imageFile,
		Prompt:         req.Prompt,
		Model:          c.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}
	if len(req.Mask) > 0 {
		maskFile, err := stageTempPNG(req.Mask)
		if err != nil {
			return nil, fmt.Errorf("openai: stage mask: %w", err)
		}
		defer discard(maskFile)
		editReq.Mask = maskFile
	}

	resp, err := c.api.CreateEditImage(ctx, editReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn().Str("model", c.model).Int("status", apiErr.HTTPStatusCode).Msg("image edit rejected")
			return nil, &domain.ProviderError{Message: apiErr.Message}
		}
		return nil, &domain.ProviderError{Message: err.Error()}
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &domain.ProviderError{Message: "provider returned no image data"}
	}

	c.logger.Debug().Str("model", c.model).Msg("image edit completed")
	return &img.Result{
		DataURL: "data:" + media.MIMEPNG + ";base64," + resp.Data[0].B64JSON,
	}, nil
}

func stageTempPNG(data []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "visualizer-*.png")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		discard(f)
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard(f)
		return nil, err
	}
	return f, nil
}

func discard(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

var _ img.Generator = (*Client)(nil)
