package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
	"github.com/agriquest/authcore/pkg/idx"
	"github.com/agriquest/authcore/pkg/jwtx"
)

// RequestContext stamps the request id and resolved client address into the
// request context, where the audit trail picks them up as correlation id and
// network address. Runs outermost so every later layer sees them.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = idx.New().String()
			r.Header.Set("X-Request-ID", reqID)
		}
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), httpx.CtxKeyRequestID, reqID)
		ctx = context.WithValue(ctx, httpx.CtxKeyClientIP, httpx.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit admits requests through the given limit class. The standard
// rate-limit headers go out on every response; denials get a Retry-After and
// a 429 body carrying the same number so clients can back off precisely.
func RateLimit(limiter *service.RateLimiter, audit *service.AuditService, class service.LimitClass) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := limiter.ClientIdentifier(r)
			d := limiter.Allow(r.Context(), identifier, class)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(d.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			h.Set("Retry-After", strconv.Itoa(retryAfter))

			action := "rate_limited"
			if d.Blocked {
				action = "blocked_identifier_denied"
			}
			audit.LogSecurityEvent(r.Context(), "", action, domain.SeverityHigh, map[string]any{
				"identifier": identifier,
				"class":      string(class),
				"path":       r.URL.Path,
			})

			httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limited",
				"retry_after": retryAfter,
			})
		})
	}
}

// Authn verifies the bearer access token and stamps the subject into the
// request context. Every failure mode (missing, expired, malformed, revoked,
// wrong type) gets the same response so the endpoint leaks nothing about why
// a token was rejected; the distinction lives in the audit trail.
func Authn(tokens *service.TokenService, audit *service.AuditService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := tokens.Verify(r.Context(), token, jwtx.TokenTypeAccess)
			if err != nil {
				audit.LogAuthorization(r.Context(), "", "token_rejected: "+err.Error(), false)
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), httpx.CtxKeyUserID, claims.Subject)
			ctx = context.WithValue(ctx, httpx.CtxKeyRole, claims.Role)
			ctx = context.WithValue(ctx, httpx.CtxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route to subjects holding one of the given roles.
// Denials are audited as authorization events.
func RequireRole(audit *service.AuditService, roles ...domain.Role) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := domain.Role(httpx.RoleFromContext(r.Context()))
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			audit.LogAuthorization(r.Context(), httpx.UserIDFromContext(r.Context()), "role_denied: "+r.URL.Path, false)
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	httpx.WriteError(w, http.StatusUnauthorized, "authentication_required", "valid access token required")
}
