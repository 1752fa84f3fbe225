package http

import (
	"encoding/json"
	"net/http"

	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
)

// LogoutHandler serves POST /v1/auth/logout. Requires an authenticated
// access token; the refresh token rides in the body so both ends of the
// session are retired together.
type LogoutHandler struct {
	Auth *service.AuthService
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.Body != nil {
		// Body is optional; a bare logout still revokes the access token.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.Auth.Logout(r.Context(), bearerToken(r), req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
