package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/pkg/httpx"
	"github.com/agriquest/authcore/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store        store.Store
	AuthService  *service.AuthService
	TokenService *service.TokenService
	Limiter      *service.RateLimiter
	AuditService *service.AuditService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Global middleware chain: request identity first so logging and audit
	// see the correlation id, then logging, then browser hardening headers.
	r.middlewares = []httpx.Middleware{
		RequestContext,
		slogx.HTTPMiddleware(r.logger),
		httpx.SecurityHeaders,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.middlewares...)(r.Mux).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	// The auth flows run rate-limit admission inside AuthService (so the
	// class budgets and suspicion feedback sit next to the credential
	// checks); wrapping them in the RateLimit middleware would double-count
	// every request. The handlers translate RateLimitedError into the same
	// 429-with-headers shape the middleware produces.
	login := &LoginHandler{Auth: r.AuthService}
	r.Mux.Handle("POST /v1/auth/login", login)

	register := &RegisterHandler{Auth: r.AuthService}
	r.Mux.Handle("POST /v1/auth/register", http.HandlerFunc(register.HandleBegin))
	r.Mux.Handle("POST /v1/auth/register/verify", http.HandlerFunc(register.HandleVerify))

	reset := &PasswordResetHandler{Auth: r.AuthService}
	r.Mux.Handle("POST /v1/auth/password-reset", http.HandlerFunc(reset.HandleBegin))
	r.Mux.Handle("POST /v1/auth/password-reset/verify", http.HandlerFunc(reset.HandleVerify))

	refresh := &RefreshHandler{Auth: r.AuthService}
	r.Mux.Handle("POST /v1/auth/refresh",
		RateLimit(r.Limiter, r.AuditService, service.LimitAPI)(refresh))

	logout := &LogoutHandler{Auth: r.AuthService}
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(
			RateLimit(r.Limiter, r.AuditService, service.LimitAPI),
			Authn(r.TokenService, r.AuditService),
		)(logout))
}

func (r *Router) registerAdmin() {
	events := &AuditQueryHandler{Audit: r.AuditService}
	report := &SecurityReportHandler{Audit: r.AuditService}

	secured := func(h http.Handler) http.Handler {
		return httpx.Chain(
			RateLimit(r.Limiter, r.AuditService, service.LimitAPI),
			Authn(r.TokenService, r.AuditService),
			RequireRole(r.AuditService, domain.RoleAdmin),
		)(h)
	}

	r.Mux.Handle("GET /v1/admin/audit/events", secured(events))
	r.Mux.Handle("GET /v1/admin/audit/report", secured(report))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.store))
}
