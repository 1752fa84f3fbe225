package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/internal/security/store/drivers/sqlite"
	"github.com/agriquest/authcore/pkg/cryptox"
	"github.com/agriquest/authcore/pkg/idx"
	"github.com/agriquest/authcore/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "authcore-http-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) SendCode(_ context.Context, identityKey, code string, _ domain.OTPPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[identityKey] = code
	return nil
}

func (s *captureSender) lastCode(identityKey string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[identityKey]
}

type testEnv struct {
	router *Router
	sender *captureSender
	store  *sqlite.Store
	tokens *service.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "test.db"))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key := []byte("0123456789abcdef0123456789abcdef")
	signer, err := jwtx.NewSignerHS256(key)
	require.NoError(t, err)
	verifier := jwtx.NewVerifierHS256(key, jwtx.VerifyOptions{Issuer: "authcore-test"})

	sender := &captureSender{codes: map[string]string{}}
	tokens := service.NewTokenService(st, signer, verifier, "authcore-test")
	limiter := service.NewRateLimiter(service.NewMemoryCounterStore())
	audit := service.NewAuditService(st, logger, nil)

	router := NewRouter("test", st, logger)
	router.AuthService = &service.AuthService{
		Store:   st,
		OTP:     service.NewOTPService(st),
		Tokens:  tokens,
		Limiter: limiter,
		Audit:   audit,
		Sender:  sender,
	}
	router.TokenService = tokens
	router.Limiter = limiter
	router.AuditService = audit
	router.ApplyRoutes()

	return &testEnv{router: router, sender: sender, store: st, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// registerUser walks the two-step registration over the wire and returns the
// issued pair.
func registerUser(t *testing.T, env *testEnv, identifier, password string) domain.TokenPair {
	t.Helper()

	rec := env.do(t, "POST", "/v1/auth/register", map[string]string{
		"identifier": identifier,
		"username":   "someone",
		"password":   password,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	code := env.sender.lastCode(identifier)
	require.Len(t, code, 6)

	rec = env.do(t, "POST", "/v1/auth/register/verify", map[string]string{
		"identifier": identifier,
		"code":       code,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair domain.TokenPair
	decode(t, rec, &pair)
	return pair
}

// seedAdmin creates a verified admin directly in the store and mints a pair.
func seedAdmin(t *testing.T, env *testEnv) domain.TokenPair {
	t.Helper()

	hash, err := cryptox.HashPassword("admin-pw")
	require.NoError(t, err)

	now := time.Now().UTC()
	admin := domain.User{
		ID:           idx.New().String(),
		Identifier:   "admin@example.com",
		Username:     "admin",
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, env.store.Users().CreateUser(context.Background(), admin))

	pair, err := env.tokens.IssuePair(context.Background(), admin.ID, domain.RoleAdmin)
	require.NoError(t, err)
	return pair
}

func TestLoginEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("valid credentials return a pair", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "student@example.com", "s3cret-pw")

		rec := env.do(t, "POST", "/v1/auth/login", map[string]string{
			"identifier": "student@example.com",
			"password":   "s3cret-pw",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var pair domain.TokenPair
		decode(t, rec, &pair)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, "Bearer", pair.TokenType)
		require.Equal(t, int64(3600), pair.ExpiresIn)
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("wrong password is a vague 401", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "student@example.com", "s3cret-pw")

		rec := env.do(t, "POST", "/v1/auth/login", map[string]string{
			"identifier": "student@example.com",
			"password":   "wrong",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		require.Equal(t, "invalid_credentials", body["error"])
	})

	t.Run("malformed and incomplete bodies are rejected", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest("POST", "/v1/auth/login", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, "POST", "/v1/auth/login", map[string]string{"identifier": "x"}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("hammering wrong passwords trips the limiter", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "victim@example.com", "right-pw")

		attempt := func() *httptest.ResponseRecorder {
			return env.do(t, "POST", "/v1/auth/login", map[string]string{
				"identifier": "victim@example.com",
				"password":   "wrong",
			}, map[string]string{"X-Forwarded-For": "203.0.113.50"})
		}

		// The first failures are credential rejections; suspicion then
		// shrinks the budget until the door closes.
		require.Equal(t, http.StatusUnauthorized, attempt().Code)
		require.Equal(t, http.StatusUnauthorized, attempt().Code)

		rec := attempt()
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

		var body map[string]any
		decode(t, rec, &body)
		require.Equal(t, "rate_limited", body["error"])
	})
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("wrong code counts down and leaves the account unverified", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, "POST", "/v1/auth/register", map[string]string{
			"identifier": "new@example.com",
			"username":   "someone",
			"password":   "pw",
		}, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		wrong := "000000"
		if env.sender.lastCode("new@example.com") == wrong {
			wrong = "000001"
		}
		rec = env.do(t, "POST", "/v1/auth/register/verify", map[string]string{
			"identifier": "new@example.com",
			"code":       wrong,
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]any
		decode(t, rec, &body)
		require.Equal(t, "invalid_code", body["error"])
		require.Equal(t, float64(2), body["attempts_remaining"])
	})

	t.Run("taken identifier conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "taken@example.com", "pw")

		rec := env.do(t, "POST", "/v1/auth/register", map[string]string{
			"identifier": "taken@example.com",
			"username":   "other",
			"password":   "pw2",
		}, map[string]string{"X-Forwarded-For": "203.0.113.51"})
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("privileged roles cannot self-register", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, "POST", "/v1/auth/register", map[string]string{
			"identifier": "sneaky@example.com",
			"username":   "sneaky",
			"password":   "pw",
			"role":       "admin",
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPasswordResetEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("full flow updates the password", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "reset@example.com", "old-pw")

		rec := env.do(t, "POST", "/v1/auth/password-reset", map[string]string{
			"identifier": "reset@example.com",
		}, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = env.do(t, "POST", "/v1/auth/password-reset/verify", map[string]string{
			"identifier":   "reset@example.com",
			"code":         env.sender.lastCode("reset@example.com"),
			"new_password": "new-pw",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		require.Equal(t, "password_updated", body["status"])
		require.Empty(t, body["temporary_password"])

		rec = env.do(t, "POST", "/v1/auth/login", map[string]string{
			"identifier": "reset@example.com",
			"password":   "new-pw",
		}, map[string]string{"X-Forwarded-For": "203.0.113.52"})
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown identifiers get the same answer", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, "POST", "/v1/auth/password-reset", map[string]string{
			"identifier": "ghost@example.com",
		}, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		require.Equal(t, "reset_code_sent_if_account_exists", body["status"])
	})

	t.Run("omitting the new password returns a temporary one", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "temp@example.com", "old-pw")

		rec := env.do(t, "POST", "/v1/auth/password-reset", map[string]string{
			"identifier": "temp@example.com",
		}, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = env.do(t, "POST", "/v1/auth/password-reset/verify", map[string]string{
			"identifier": "temp@example.com",
			"code":       env.sender.lastCode("temp@example.com"),
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		require.Len(t, body["temporary_password"], 16)
	})
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	pair := registerUser(t, env, "refresh@example.com", "pw")

	rec := env.do(t, "POST", "/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))

	var fresh domain.TokenPair
	decode(t, rec, &fresh)
	require.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

	// The rotated-out token gets the uniform token rejection.
	rec = env.do(t, "POST", "/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	require.Equal(t, "authentication_required", body["error"])
}

func TestLogoutEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("requires an access token", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, "POST", "/v1/auth/logout", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("revokes the session", func(t *testing.T) {
		env := newTestEnv(t)
		pair := registerUser(t, env, "logout@example.com", "pw")

		auth := map[string]string{"Authorization": "Bearer " + pair.AccessToken}
		rec := env.do(t, "POST", "/v1/auth/logout", map[string]string{
			"refresh_token": pair.RefreshToken,
		}, auth)
		require.Equal(t, http.StatusNoContent, rec.Code)

		// Both halves of the pair are now dead.
		rec = env.do(t, "POST", "/v1/auth/logout", nil, auth)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = env.do(t, "POST", "/v1/auth/refresh", map[string]string{
			"refresh_token": pair.RefreshToken,
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("require an admin role", func(t *testing.T) {
		env := newTestEnv(t)
		student := registerUser(t, env, "student@example.com", "pw")

		rec := env.do(t, "GET", "/v1/admin/audit/events", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = env.do(t, "GET", "/v1/admin/audit/events", nil, map[string]string{
			"Authorization": "Bearer " + student.AccessToken,
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("audit events are queryable", func(t *testing.T) {
		env := newTestEnv(t)
		registerUser(t, env, "student@example.com", "pw")
		admin := seedAdmin(t, env)

		rec := env.do(t, "GET", "/v1/admin/audit/events?category=authentication", nil, map[string]string{
			"Authorization": "Bearer " + admin.AccessToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Events []domain.AuditEvent `json:"events"`
			Count  int                 `json:"count"`
		}
		decode(t, rec, &body)
		require.NotZero(t, body.Count)
		require.Len(t, body.Events, body.Count)
	})

	t.Run("bad query parameters are rejected", func(t *testing.T) {
		env := newTestEnv(t)
		admin := seedAdmin(t, env)
		auth := map[string]string{"Authorization": "Bearer " + admin.AccessToken}

		rec := env.do(t, "GET", "/v1/admin/audit/events?from=yesterday", nil, auth)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, "GET", "/v1/admin/audit/events?limit=0", nil, auth)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("security report covers the window", func(t *testing.T) {
		env := newTestEnv(t)
		admin := seedAdmin(t, env)

		// A couple of failures to report on.
		for range 2 {
			env.do(t, "POST", "/v1/auth/login", map[string]string{
				"identifier": "nobody@example.com",
				"password":   "wrong",
			}, nil)
		}

		rec := env.do(t, "GET", "/v1/admin/audit/report", nil, map[string]string{
			"Authorization": "Bearer " + admin.AccessToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var report domain.SecurityReport
		decode(t, rec, &report)
		require.Equal(t, 2, report.FailedLogins)

		rec = env.do(t, "GET", "/v1/admin/audit/report?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z", nil, map[string]string{
			"Authorization": "Bearer " + admin.AccessToken,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	t.Run("livez", func(t *testing.T) {
		rec := env.do(t, "GET", "/livez", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		decode(t, rec, &body)
		require.Equal(t, "ok", body["status"])
		require.Equal(t, "test", body["version"])
	})

	t.Run("readyz", func(t *testing.T) {
		rec := env.do(t, "GET", "/readyz", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("request id and hardening headers ride every response", func(t *testing.T) {
		rec := env.do(t, "GET", "/livez", nil, map[string]string{"X-Request-ID": "req-7"})
		require.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))
		require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

		rec = env.do(t, "GET", "/livez", nil, nil)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}
