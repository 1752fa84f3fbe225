package http

import (
	"encoding/json"
	"net/http"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
)

// RegisterHandler serves the two-step registration flow:
// POST /v1/auth/register and POST /v1/auth/register/verify.
type RegisterHandler struct {
	Auth *service.AuthService
}

type registerBeginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Role       string `json:"role,omitempty"`
}

type registerVerifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

func (h *RegisterHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	var req registerBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Identifier == "" || req.Username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "identifier, username, and password are required")
		return
	}

	// Privileged roles are provisioned by admins, not self-registration.
	role := domain.Role(req.Role)
	if role != "" && role != domain.RoleStudent && role != domain.RoleTeacher {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unsupported role")
		return
	}

	clientID := h.Auth.Limiter.ClientIdentifier(r)
	if err := h.Auth.BeginRegister(r.Context(), req.Identifier, req.Username, req.Password, role, clientID); err != nil {
		writeAuthError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "verification_code_sent",
	})
}

func (h *RegisterHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req registerVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Identifier == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "identifier and code are required")
		return
	}

	clientID := h.Auth.Limiter.ClientIdentifier(r)
	pair, err := h.Auth.CompleteRegister(r.Context(), req.Identifier, req.Code, clientID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}
