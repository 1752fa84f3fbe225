package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
	"github.com/agriquest/authcore/pkg/slogx"
)

// writeAuthError maps orchestrator errors onto the wire. Credential-shaped
// failures stay deliberately vague; rate limiting carries the exact numbers a
// well-behaved client needs to back off.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *service.RateLimitedError
	if errors.As(err, &limited) {
		writeRateLimited(w, limited.Decision)
		return
	}

	var mismatch *service.CodeMismatchError
	if errors.As(err, &mismatch) {
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]any{
			"error":              "invalid_code",
			"attempts_remaining": mismatch.Remaining,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "identifier or password is incorrect")
	case errors.Is(err, service.ErrAccountNotVerified):
		httpx.WriteError(w, http.StatusForbidden, "account_not_verified", "complete registration verification first")
	case errors.Is(err, service.ErrIdentifierTaken):
		httpx.WriteError(w, http.StatusConflict, "identifier_taken", "an account with this identifier already exists")
	case errors.Is(err, service.ErrNoActiveCode):
		httpx.WriteError(w, http.StatusUnauthorized, "no_active_code", "request a new code")
	case errors.Is(err, service.ErrCodeExpired):
		httpx.WriteError(w, http.StatusUnauthorized, "code_expired", "request a new code")
	case errors.Is(err, service.ErrAttemptsExhausted):
		httpx.WriteError(w, http.StatusUnauthorized, "attempts_exhausted", "request a new code")
	case errors.Is(err, service.ErrIssuanceLimited):
		httpx.WriteError(w, http.StatusTooManyRequests, "issuance_limited", "too many codes requested, try again later")
	case errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenMalformed),
		errors.Is(err, service.ErrTokenRevoked),
		errors.Is(err, service.ErrTokenTypeMismatch),
		errors.Is(err, service.ErrRefreshFamilyInvalidated):
		// One uniform answer for every token failure mode.
		unauthorized(w)
	default:
		slogx.FromContext(r.Context()).Error("auth request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeRateLimited(w http.ResponseWriter, d service.Decision) {
	retryAfter := int(d.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	h.Set("Retry-After", strconv.Itoa(retryAfter))

	httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limited",
		"retry_after": retryAfter,
	})
}
