package http

import (
	"net/http"

	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/pkg/httpx"
)

// ReadyzHandler is the readiness probe; it fails while the store is
// unreachable so load balancers hold traffic back.
func ReadyzHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
