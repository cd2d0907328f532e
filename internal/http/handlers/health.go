package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("health check failed")
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "backend": a.Backend})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "backend": a.Backend})
}
