package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	httpapi "github.com/agriquest/authcore/internal/security/http"
	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/internal/security/store/drivers/sqlite"
	"github.com/agriquest/authcore/pkg/cryptox"
	"github.com/agriquest/authcore/pkg/jwtx"
	"github.com/agriquest/authcore/pkg/slogx"

	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the security core with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	otpService          *service.OTPService
	rateLimiter         *service.RateLimiter
	tokenService        *service.TokenService
	auditService        *service.AuditService
	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Pepper feeds both password hashing and OTP hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authcore starting", "port", app.cfg.Port, "version", BuildVersion)
	app.auditService.LogSystemEvent(context.Background(), "service_start", map[string]any{
		"version": BuildVersion,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authcore...")
	app.auditService.LogSystemEvent(context.Background(), "service_stop", nil)

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authcore stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() error {
	signer, verifier, err := app.initTokenCrypto()
	if err != nil {
		return err
	}

	app.otpService = service.NewOTPService(app.db)

	var counters service.CounterStore
	if app.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		counters = service.NewRedisCounterStore(client, app.logger)
		app.logger.Info("rate limiting using redis", "addr", app.cfg.RedisAddr)
	} else {
		counters = service.NewMemoryCounterStore()
		app.logger.Info("rate limiting using in-memory counters")
	}
	app.rateLimiter = service.NewRateLimiter(counters)

	app.tokenService = service.NewTokenService(app.db, signer, verifier, app.cfg.Issuer)
	app.tokenService.AccessTTL = app.cfg.AccessTTL
	app.tokenService.RefreshTTL = app.cfg.RefreshTTL

	app.auditService = service.NewAuditService(app.db, app.logger, &logAlertNotifier{logger: app.logger})

	app.authService = &service.AuthService{
		Store:   app.db,
		OTP:     app.otpService,
		Tokens:  app.tokenService,
		Limiter: app.rateLimiter,
		Audit:   app.auditService,
		Sender:  &logCodeSender{logger: app.logger},
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.otpService,
		app.tokenService,
		app.rateLimiter,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// initTokenCrypto builds the signer/verifier pair from config.
func (app *Application) initTokenCrypto() (jwtx.Signer, jwtx.Verifier, error) {
	opts := jwtx.VerifyOptions{Issuer: app.cfg.Issuer, Leeway: 30 * time.Second}

	switch app.cfg.Algorithm {
	case "EdDSA":
		keyBytes, err := os.ReadFile(app.cfg.JWTKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read EdDSA key file: %w", err)
		}
		signer, err := jwtx.NewSignerEdDSA(keyBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize EdDSA signer: %w", err)
		}
		return signer, jwtx.NewVerifierEdDSA(signer.Public(), opts), nil

	case "HS256", "":
		if app.cfg.JWTSecret == "" {
			return nil, nil, errors.New("AUTHCORE_JWT_SECRET is required for HS256")
		}
		signer, err := jwtx.NewSignerHS256([]byte(app.cfg.JWTSecret))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize HS256 signer: %w", err)
		}
		return signer, jwtx.NewVerifierHS256([]byte(app.cfg.JWTSecret), opts), nil

	default:
		return nil, nil, fmt.Errorf("unsupported signing algorithm %q", app.cfg.Algorithm)
	}
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.AuthService = app.authService
	router.TokenService = app.tokenService
	router.Limiter = app.rateLimiter
	router.AuditService = app.auditService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// logCodeSender stands in for the platform's real delivery gateway. It logs
// that a code went out but never the code itself.
type logCodeSender struct {
	logger *slog.Logger
}

func (s *logCodeSender) SendCode(_ context.Context, identityKey, _ string, purpose domain.OTPPurpose) error {
	s.logger.Info("verification code issued", "identity", identityKey, "purpose", string(purpose))
	return nil
}

// logAlertNotifier surfaces critical audit events in the log until a real
// alerting channel is wired up.
type logAlertNotifier struct {
	logger *slog.Logger
}

func (n *logAlertNotifier) Notify(_ context.Context, ev domain.AuditEvent) {
	n.logger.Error("SECURITY ALERT",
		"audit_id", ev.ID,
		"action", ev.Action,
		"actor_id", ev.ActorID,
		"ip", ev.IPAddress,
	)
}
