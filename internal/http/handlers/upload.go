package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	"github.com/DaanH/buildings-visualizer/internal/jobs"
	"github.com/DaanH/buildings-visualizer/internal/media"
	"github.com/DaanH/buildings-visualizer/internal/middleware"
)

// maxUploadBytes bounds the whole multipart body: two raster images plus
// form fields fit comfortably.
const maxUploadBytes = 32 << 20

type uploadResponse struct {
	ImageID string `json:"imageId"`
}

// Upload accepts a multipart form with an image, an optional mask and a
// prompt (or a colorHex shorthand), persists a pending record and hands the
// generation off to the background queue. The client learns the outcome by
// polling the status endpoint.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, message("invalid_form", locale))
		return
	}

	prompt := r.FormValue("prompt")
	colorHex := r.FormValue("colorHex")
	if prompt == "" {
		if colorHex == "" {
			a.error(w, http.StatusBadRequest, message("prompt_required", locale))
			return
		}
		prompt = repaintPrompt(colorHex)
	}

	imageBytes, fileName, err := a.readUpload(r, "image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			a.error(w, http.StatusBadRequest, message("image_required", locale))
			return
		}
		a.error(w, http.StatusBadRequest, message("unsupported_image", locale))
		return
	}

	maskBytes, _, err := a.readUpload(r, "mask")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		a.error(w, http.StatusBadRequest, message("unsupported_image", locale))
		return
	}

	// Normalization failures never block a submission: the provider gets
	// the original bytes and any rejection lands in the record.
	imageBytes = normalizeOrKeep(imageBytes)
	if len(maskBytes) > 0 {
		maskBytes = normalizeOrKeep(maskBytes)
	}

	id := uuid.NewString()
	patch := domain.RecordPatch{
		Status:    domain.StatusOf(domain.StatusPending),
		FileName:  domain.String(fileName),
		Timestamp: domain.String(time.Now().UTC().Format(time.RFC3339)),
		Metadata: map[string]any{
			"prompt":   prompt,
			"colorHex": colorHex,
		},
	}
	if err := a.Store.Put(r.Context(), id, patch); err != nil {
		a.Logger.Error().Err(err).Str("image_id", id).Msg("persist pending record")
		a.error(w, http.StatusInternalServerError, message("internal", locale))
		return
	}

	a.Stats.RecordSubmission(r.Context(), middleware.CountryFromContext(r.Context()))

	task := jobs.Task{RecordID: id, Prompt: prompt, Image: imageBytes, Mask: maskBytes}
	if err := a.Queue.Enqueue(task); err != nil {
		a.markRejected(r, id, err)
		a.error(w, http.StatusServiceUnavailable, message("queue_full", locale))
		return
	}

	a.json(w, http.StatusAccepted, map[string]any{"response": uploadResponse{ImageID: id}})
}

// readUpload pulls one file part, enforcing a raster media type by magic
// bytes rather than trusting the part's declared content type.
func (a *App) readUpload(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if _, ok := media.Sniff(data); !ok {
		return nil, "", domain.ErrInvalidUpload
	}
	return data, header.Filename, nil
}

func normalizeOrKeep(data []byte) []byte {
	if normalized, err := media.Normalize(data); err == nil {
		return normalized
	}
	return data
}

// markRejected records the terminal failure for a submission the queue
// could not take, so a poll does not hang on a pending record forever.
func (a *App) markRejected(r *http.Request, id string, err error) {
	patch := domain.RecordPatch{
		Status:       domain.StatusOf(domain.StatusError),
		ErrorMessage: domain.String(err.Error()),
	}
	if putErr := a.Store.Put(r.Context(), id, patch); putErr != nil {
		a.Logger.Error().Err(putErr).Str("image_id", id).Msg("persist rejected record")
	}
}

func repaintPrompt(colorHex string) string {
	return fmt.Sprintf("Repaint the exterior walls of the building in this photo in the color %s. Keep windows, doors, roof and surroundings unchanged and preserve the original lighting.", colorHex)
}
