package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	"github.com/DaanH/buildings-visualizer/internal/media"
	"github.com/DaanH/buildings-visualizer/internal/middleware"
)

// Image serves the generated result as raw bytes. Completed records never
// change, so the response is immutable-cacheable.
func (a *App) Image(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "imageId")
	locale := middleware.LocaleFromContext(r.Context())

	rec, err := a.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, message("not_found", locale), http.StatusNotFound)
			return
		}
		a.Logger.Error().Err(err).Str("image_id", id).Msg("load record")
		http.Error(w, message("internal", locale), http.StatusInternalServerError)
		return
	}
	if rec.Status != domain.StatusCompleted || rec.Data == "" {
		http.Error(w, message("not_found", locale), http.StatusNotFound)
		return
	}

	contentType, data, err := media.DecodeDataURL(rec.Data)
	if err != nil {
		a.Logger.Error().Err(err).Str("image_id", id).Msg("decode stored image")
		http.Error(w, message("internal", locale), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ImageStatus is the 2-second polling target: a tiny payload read through
// GetField so pending polls never drag the image blob out of the store.
func (a *App) ImageStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "imageId")
	locale := middleware.LocaleFromContext(r.Context())

	status, err := a.Store.GetField(r.Context(), id, domain.FieldStatus)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, message("not_found", locale))
			return
		}
		a.Logger.Error().Err(err).Str("image_id", id).Msg("load status")
		a.error(w, http.StatusInternalServerError, message("internal", locale))
		return
	}

	body := map[string]any{"status": status}
	if status == string(domain.StatusError) {
		if msg, err := a.Store.GetField(r.Context(), id, domain.FieldErrorMessage); err == nil {
			body["errorMessage"] = msg
		}
	}
	a.json(w, http.StatusOK, body)
}

// ImageDelete removes a record. The UI never calls this; it exists for
// operators cleaning up stored results.
func (a *App) ImageDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "imageId")
	locale := middleware.LocaleFromContext(r.Context())

	deleted, err := a.Store.Delete(r.Context(), id)
	if err != nil {
		a.Logger.Error().Err(err).Str("image_id", id).Msg("delete record")
		a.error(w, http.StatusInternalServerError, message("internal", locale))
		return
	}
	if deleted == 0 {
		a.error(w, http.StatusNotFound, message("not_found", locale))
		return
	}
	a.json(w, http.StatusOK, map[string]int{"deleted": deleted})
}
