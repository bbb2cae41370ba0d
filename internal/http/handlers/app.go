package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	"github.com/DaanH/buildings-visualizer/internal/infra"
	"github.com/DaanH/buildings-visualizer/internal/jobs"
	"github.com/DaanH/buildings-visualizer/internal/stats"
)

// App carries the constructed dependencies the HTTP layer needs. Handlers
// never reach for globals; everything is injected at startup.
type App struct {
	Store  domain.Store
	Queue  *jobs.Queue
	Stats  *stats.Recorder
	Config *infra.Config
	Logger zerolog.Logger
}

func NewApp(store domain.Store, queue *jobs.Queue, recorder *stats.Recorder, cfg *infra.Config, logger zerolog.Logger) *App {
	return &App{Store: store, Queue: queue, Stats: recorder, Config: cfg, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}
