package http

import (
	"encoding/json"
	"net/http"

	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
)

// PasswordResetHandler serves the two-step reset flow:
// POST /v1/auth/password-reset and POST /v1/auth/password-reset/verify.
type PasswordResetHandler struct {
	Auth *service.AuthService
}

type resetBeginRequest struct {
	Identifier string `json:"identifier"`
}

type resetVerifyRequest struct {
	Identifier  string `json:"identifier"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password,omitempty"`
}

func (h *PasswordResetHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	var req resetBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Identifier == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}

	clientID := h.Auth.Limiter.ClientIdentifier(r)
	if err := h.Auth.BeginPasswordReset(r.Context(), req.Identifier, clientID); err != nil {
		writeAuthError(w, r, err)
		return
	}

	// Same answer whether or not the identifier exists.
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "reset_code_sent_if_account_exists",
	})
}

func (h *PasswordResetHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Identifier == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "identifier and code are required")
		return
	}

	clientID := h.Auth.Limiter.ClientIdentifier(r)
	tempPassword, err := h.Auth.CompletePasswordReset(r.Context(), req.Identifier, req.Code, req.NewPassword, clientID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	resp := map[string]string{"status": "password_updated"}
	if tempPassword != "" {
		resp["temporary_password"] = tempPassword
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
