package handlers

import (
	"net/http"
)

// Health reports liveness together with store reachability.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
