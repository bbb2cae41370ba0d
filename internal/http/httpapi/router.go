package httpapi

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DaanH/buildings-visualizer/internal/http/handlers"
	"github.com/DaanH/buildings-visualizer/internal/middleware"
	"github.com/DaanH/buildings-visualizer/web"
)

// NewRouter wires the full HTTP surface: the upload and polling API, ops
// endpoints and the embedded browser UI.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.Locale(app.Config.DefaultLocale, lookup),
	)

	r.Post("/", app.Upload)

	r.Route("/api", func(r chi.Router) {
		r.Get("/image/{imageId}", app.Image)
		r.Get("/image/{imageId}/status", app.ImageStatus)
		r.Delete("/image/{imageId}", app.ImageDelete)
		r.Get("/stats", app.StatsSummary)
	})

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", serveIndex)
	assets, _ := fs.Sub(web.FS, "assets")
	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(assets))))

	return r
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	index, err := web.FS.ReadFile("index.html")
	if err != nil {
		http.Error(w, "ui not built", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(index)
}
