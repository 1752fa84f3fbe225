package http

import (
	"net/http"
	"time"

	"github.com/agriquest/authcore/pkg/httpx"
)

// LivezHandler is the liveness probe. Always 200 while the process serves.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"uptime":  time.Since(startTime).String(),
			"version": version,
		})
	}
}
