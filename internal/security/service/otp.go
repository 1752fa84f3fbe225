package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/pkg/cryptox"
	"github.com/agriquest/authcore/pkg/idx"
	"github.com/agriquest/authcore/pkg/slogx"
)

const (
	// DefaultOTPMaxAttempts is how many wrong codes burn a record.
	DefaultOTPMaxAttempts = 3

	// DefaultOTPTTL is the verification window for login/register codes.
	DefaultOTPTTL = 5 * time.Minute

	// DefaultResetOTPTTL is the shorter window used by password reset codes.
	DefaultResetOTPTTL = 3 * time.Minute

	// DefaultMaxIssuesPerHour caps code issuance per identity key. This guard
	// is independent of the RateLimiter on purpose: even a whitelisted or
	// unlimited caller cannot flood one inbox with codes.
	DefaultMaxIssuesPerHour = 5
)

var (
	ErrNoActiveCode      = errors.New("no_active_code")
	ErrCodeExpired       = errors.New("code_expired")
	ErrAttemptsExhausted = errors.New("attempts_exhausted")
	ErrCodeMismatch      = errors.New("code_mismatch")
	ErrIssuanceLimited   = errors.New("issuance_limited")
)

// CodeMismatchError carries the remaining attempt count alongside the
// ErrCodeMismatch sentinel. The attempt that burns the last try still reports
// a mismatch with 0 remaining; only the following attempt sees
// ErrAttemptsExhausted.
type CodeMismatchError struct {
	Remaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrCodeMismatch, e.Remaining)
}

func (e *CodeMismatchError) Unwrap() error { return ErrCodeMismatch }

// OTPService issues and verifies short-lived numeric codes. Only keyed hashes
// touch the store; the plaintext code exists just long enough to hand to the
// notification gateway, and is never logged.
type OTPService struct {
	Store store.Store

	// Digits per code. Values outside the supported range fall back to the
	// default at generation time.
	Digits int

	TTL              time.Duration // login/register codes
	ResetTTL         time.Duration // password reset codes
	MaxAttempts      int
	MaxIssuesPerHour int

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time

	// Per-identity locks serialise verify/issue so concurrent wrong guesses
	// cannot lose an attempt increment.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewOTPService(st store.Store) *OTPService {
	return &OTPService{
		Store:            st,
		Digits:           cryptox.OTPDefaultDigits,
		TTL:              DefaultOTPTTL,
		ResetTTL:         DefaultResetOTPTTL,
		MaxAttempts:      DefaultOTPMaxAttempts,
		MaxIssuesPerHour: DefaultMaxIssuesPerHour,
		locks:            make(map[string]*sync.Mutex),
	}
}

func (s *OTPService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *OTPService) lock(identityKey string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[identityKey]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[identityKey] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Issue generates a fresh code for the identity key, invalidating any prior
// active record so at most one code verifies at a time. It returns the
// plaintext code for delivery; everything persisted is a keyed hash.
func (s *OTPService) Issue(ctx context.Context, identityKey string, purpose domain.OTPPurpose) (string, domain.OTPRecord, error) {
	unlock := s.lock(identityKey)
	defer unlock()

	now := s.now()

	allowed, err := s.issuanceAllowed(ctx, identityKey, s.MaxIssuesPerHour, now)
	if err != nil {
		return "", domain.OTPRecord{}, err
	}
	if !allowed {
		slogx.FromContext(ctx).Warn("otp issuance limit reached", "purpose", string(purpose))
		return "", domain.OTPRecord{}, ErrIssuanceLimited
	}

	code, err := cryptox.GenerateOTP(s.Digits)
	if err != nil {
		return "", domain.OTPRecord{}, err
	}

	ttl := s.TTL
	if purpose == domain.OTPPurposePasswordReset {
		ttl = s.ResetTTL
	}

	rec := domain.OTPRecord{
		ID:          idx.NewAt(now).String(),
		IdentityKey: identityKey,
		Purpose:     purpose,
		CodeHash:    cryptox.HashOTP(code, identityKey),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		MaxAttempts: s.MaxAttempts,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.OTPCodes().InvalidateOTPCodes(ctx, identityKey); err != nil {
			return err
		}
		return tx.OTPCodes().CreateOTPCode(ctx, rec)
	})
	if err != nil {
		return "", domain.OTPRecord{}, err
	}

	return code, rec, nil
}

// Verify checks a submitted code against the identity key's active record.
//
// The checks run in a fixed order: no active record, attempts already
// exhausted (terminal), expired, then the constant-time hash compare. A
// mismatch increments the attempt counter atomically and reports how many
// tries remain via CodeMismatchError.
func (s *OTPService) Verify(ctx context.Context, identityKey, code string) error {
	unlock := s.lock(identityKey)
	defer unlock()

	now := s.now()

	rec, err := s.Store.OTPCodes().GetLatestUnusedOTPCode(ctx, identityKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoActiveCode
		}
		return err
	}

	if rec.AttemptCount >= rec.MaxAttempts {
		return ErrAttemptsExhausted
	}
	if !now.Before(rec.ExpiresAt) {
		return ErrCodeExpired
	}

	if !cryptox.VerifyOTPHash(code, identityKey, rec.CodeHash) {
		updated, err := s.Store.OTPCodes().IncrementOTPAttempts(ctx, rec.ID)
		if err != nil {
			return err
		}
		remaining := updated.MaxAttempts - updated.AttemptCount
		if remaining < 0 {
			remaining = 0
		}
		return &CodeMismatchError{Remaining: remaining}
	}

	return s.Store.OTPCodes().MarkOTPCodeUsed(ctx, rec.ID)
}

// RemainingAttempts reports how many tries the identity key's active record
// has left. With no active record it reports the full allowance, since the
// next issued code starts fresh.
func (s *OTPService) RemainingAttempts(ctx context.Context, identityKey string) (int, error) {
	rec, err := s.Store.OTPCodes().GetLatestUnusedOTPCode(ctx, identityKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.MaxAttempts, nil
		}
		return 0, err
	}

	remaining := rec.MaxAttempts - rec.AttemptCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IssuanceAllowed reports whether the identity key is under its trailing-hour
// issuance allowance.
func (s *OTPService) IssuanceAllowed(ctx context.Context, identityKey string, maxPerHour int) (bool, error) {
	return s.issuanceAllowed(ctx, identityKey, maxPerHour, s.now())
}

func (s *OTPService) issuanceAllowed(ctx context.Context, identityKey string, maxPerHour int, now time.Time) (bool, error) {
	if maxPerHour <= 0 {
		return true, nil
	}
	n, err := s.Store.OTPCodes().CountOTPCodesSince(ctx, identityKey, now.Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return n < maxPerHour, nil
}

// CleanupExpired drops records past their expiry. Idempotent.
func (s *OTPService) CleanupExpired(ctx context.Context) error {
	return s.Store.OTPCodes().DeleteExpiredOTPCodes(ctx, s.now())
}
