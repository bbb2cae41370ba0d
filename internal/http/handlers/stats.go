package handlers

import (
	"net/http"

	"github.com/DaanH/buildings-visualizer/internal/middleware"
)

// StatsSummary reports today's submission counters.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Stats.Summary(r.Context())
	if err != nil {
		locale := middleware.LocaleFromContext(r.Context())
		a.Logger.Error().Err(err).Msg("load stats summary")
		a.error(w, http.StatusInternalServerError, message("internal", locale))
		return
	}
	a.json(w, http.StatusOK, summary)
}
