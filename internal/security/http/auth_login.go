package http

import (
	"encoding/json"
	"net/http"

	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
)

// LoginHandler serves POST /v1/auth/login.
type LoginHandler struct {
	Auth *service.AuthService
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "identifier and password are required")
		return
	}

	clientID := h.Auth.Limiter.ClientIdentifier(r)
	pair, err := h.Auth.Login(r.Context(), req.Identifier, req.Password, clientID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}
