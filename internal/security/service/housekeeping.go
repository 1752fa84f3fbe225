package service

import (
	"context"
	"log/slog"
	"time"
)

// HousekeepingService periodically cleans up expired records so otp_codes,
// refresh_tokens, revoked_tokens, and the rate limiter's buckets don't grow
// without bound. Safe to run alongside live traffic.
type HousekeepingService struct {
	OTP      *OTPService
	Tokens   *TokenService
	Limiter  *RateLimiter
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 60 seconds.
func NewHousekeepingService(otp *OTPService, tokens *TokenService, limiter *RateLimiter, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	return &HousekeepingService{
		OTP:      otp,
		Tokens:   tokens,
		Limiter:  limiter,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual deletion of expired records.
// Each cleanup is independent; failures in one won't stop the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()

	if err := s.OTP.CleanupExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired otp codes", "error", err)
	}

	if err := s.Tokens.CleanupExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired token records", "error", err)
	}

	if err := s.Limiter.CleanupExpired(ctx); err != nil {
		s.Logger.Error("failed to prune rate limit buckets", "error", err)
	}

	s.Logger.Debug("housekeeping cleanup completed")
}
