package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/pkg/cryptox"
	"github.com/agriquest/authcore/pkg/idx"
	"github.com/agriquest/authcore/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrIdentifierTaken    = errors.New("identifier_taken")
	ErrAccountNotVerified = errors.New("account_not_verified")
)

// RateLimitedError carries the admission decision so HTTP surfaces can emit
// an exact Retry-After. It unwraps to ErrIdentifierBlocked for blocked
// identifiers and ErrRateLimited otherwise.
type RateLimitedError struct {
	Decision Decision
}

func (e *RateLimitedError) Error() string {
	if e.Decision.Blocked {
		return fmt.Sprintf("%s: retry after %s", ErrIdentifierBlocked, e.Decision.RetryAfter)
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.Decision.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	if e.Decision.Blocked {
		return ErrIdentifierBlocked
	}
	return ErrRateLimited
}

// CodeSender delivers one-time codes to an identity key. The core never
// learns how delivery happens (email, SMS); implementations live with the
// rest of the platform.
type CodeSender interface {
	SendCode(ctx context.Context, identityKey, code string, purpose domain.OTPPurpose) error
}

// AuthService orchestrates the security components into the user-facing
// flows: login, register, password reset, refresh, logout. Every flow runs
// rate-limit admission first and is audited; failed credentials feed the
// limiter's suspicion tracking.
type AuthService struct {
	Store   store.Store
	OTP     *OTPService
	Tokens  *TokenService
	Limiter *RateLimiter
	Audit   *AuditService
	Sender  CodeSender

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) admit(ctx context.Context, clientID string, class LimitClass) error {
	d := s.Limiter.Allow(ctx, clientID, class)
	if d.Allowed {
		return nil
	}

	action := "rate_limited"
	if d.Blocked {
		action = "blocked_identifier_denied"
	}
	s.Audit.LogSecurityEvent(ctx, "", action, domain.SeverityHigh, map[string]any{
		"identifier": clientID,
		"class":      string(class),
	})
	return &RateLimitedError{Decision: d}
}

// Login checks credentials and issues a token pair. Unknown identifiers and
// wrong passwords are indistinguishable to the caller, and both count
// against the client's suspicion score.
func (s *AuthService) Login(ctx context.Context, identifier, password, clientID string) (domain.TokenPair, error) {
	if err := s.admit(ctx, clientID, LimitLogin); err != nil {
		return domain.TokenPair{}, err
	}

	user, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Limiter.MarkSuspicious(clientID)
			s.Audit.LogAuthentication(ctx, "", "login", false, "unknown identifier")
			return domain.TokenPair{}, ErrInvalidCredentials
		}
		return domain.TokenPair{}, err
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		s.Limiter.MarkSuspicious(clientID)
		s.Audit.LogAuthentication(ctx, user.ID, "login", false, "password mismatch")
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	if !user.Verified {
		s.Audit.LogAuthentication(ctx, user.ID, "login", false, "account not verified")
		return domain.TokenPair{}, ErrAccountNotVerified
	}

	pair, err := s.Tokens.IssuePair(ctx, user.ID, user.Role)
	if err != nil {
		return domain.TokenPair{}, err
	}

	s.Audit.LogAuthentication(ctx, user.ID, "login", true, "")
	return pair, nil
}

// BeginRegister creates an unverified account and sends a verification code.
// Re-registering an unverified identifier refreshes its password and code;
// a verified identifier is taken.
func (s *AuthService) BeginRegister(ctx context.Context, identifier, username, password string, role domain.Role, clientID string) error {
	if err := s.admit(ctx, clientID, LimitRegister); err != nil {
		return err
	}

	now := s.now()
	if role == "" {
		role = domain.RoleStudent
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return err
	}

	existing, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	switch {
	case err == nil && existing.Verified:
		s.Audit.LogAuthentication(ctx, existing.ID, "register", false, "identifier taken")
		return ErrIdentifierTaken
	case err == nil:
		// Unverified leftover from an abandoned attempt; take it over.
		if err := s.Store.Users().UpdatePasswordHash(ctx, existing.ID, hash); err != nil {
			return err
		}
	case errors.Is(err, store.ErrNotFound):
		user := domain.User{
			ID:           idx.NewAt(now).String(),
			Identifier:   identifier,
			Username:     username,
			PasswordHash: hash,
			Role:         role,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.Store.Users().CreateUser(ctx, user); err != nil {
			return err
		}
	default:
		return err
	}

	code, _, err := s.OTP.Issue(ctx, identifier, domain.OTPPurposeRegister)
	if err != nil {
		return err
	}
	if err := s.Sender.SendCode(ctx, identifier, code, domain.OTPPurposeRegister); err != nil {
		slogx.FromContext(ctx).Error("verification code delivery failed", "error", err)
		return err
	}

	s.Audit.LogAuthentication(ctx, "", "register_begin", true, "")
	return nil
}

// CompleteRegister verifies the registration code, activates the account,
// and signs the user in.
func (s *AuthService) CompleteRegister(ctx context.Context, identifier, code, clientID string) (domain.TokenPair, error) {
	if err := s.admit(ctx, clientID, LimitOTP); err != nil {
		return domain.TokenPair{}, err
	}

	if err := s.OTP.Verify(ctx, identifier, code); err != nil {
		s.Limiter.MarkSuspicious(clientID)
		s.Audit.LogAuthentication(ctx, "", "register_verify", false, err.Error())
		return domain.TokenPair{}, err
	}

	user, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if err := s.Store.Users().MarkUserVerified(ctx, user.ID); err != nil {
		return domain.TokenPair{}, err
	}

	pair, err := s.Tokens.IssuePair(ctx, user.ID, user.Role)
	if err != nil {
		return domain.TokenPair{}, err
	}

	s.Audit.LogAuthentication(ctx, user.ID, "register_complete", true, "")
	return pair, nil
}

// BeginPasswordReset sends a reset code when the identifier exists. It
// reports success either way so the endpoint cannot be used to probe for
// accounts.
func (s *AuthService) BeginPasswordReset(ctx context.Context, identifier, clientID string) error {
	if err := s.admit(ctx, clientID, LimitPasswordReset); err != nil {
		return err
	}

	user, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Audit.LogAuthentication(ctx, "", "password_reset_begin", false, "unknown identifier")
			return nil
		}
		return err
	}

	code, _, err := s.OTP.Issue(ctx, identifier, domain.OTPPurposePasswordReset)
	if err != nil {
		if errors.Is(err, ErrIssuanceLimited) {
			s.Audit.LogSecurityEvent(ctx, user.ID, "password_reset_issuance_limited", domain.SeverityHigh, nil)
			return nil
		}
		return err
	}
	if err := s.Sender.SendCode(ctx, identifier, code, domain.OTPPurposePasswordReset); err != nil {
		slogx.FromContext(ctx).Error("reset code delivery failed", "error", err)
		return err
	}

	s.Audit.LogAuthentication(ctx, user.ID, "password_reset_begin", true, "")
	return nil
}

// CompletePasswordReset verifies the reset code and installs the new
// password. With an empty newPassword a generated temporary password is
// installed and returned, for flows where staff reset on a student's behalf.
func (s *AuthService) CompletePasswordReset(ctx context.Context, identifier, code, newPassword, clientID string) (string, error) {
	if err := s.admit(ctx, clientID, LimitOTP); err != nil {
		return "", err
	}

	if err := s.OTP.Verify(ctx, identifier, code); err != nil {
		s.Limiter.MarkSuspicious(clientID)
		s.Audit.LogAuthentication(ctx, "", "password_reset_verify", false, err.Error())
		return "", err
	}

	user, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}

	var tempPassword string
	if newPassword == "" {
		tempPassword, err = cryptox.GenerateTempPassword()
		if err != nil {
			return "", err
		}
		newPassword = tempPassword
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return "", err
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return "", err
	}

	s.Audit.LogDataModification(ctx, user.ID, "password_reset_complete", nil)
	return tempPassword, nil
}

// Refresh rotates a refresh token into a fresh pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	pair, err := s.Tokens.Refresh(ctx, refreshToken)
	if err != nil {
		s.Audit.LogAuthentication(ctx, "", "token_refresh", false, err.Error())
		return domain.TokenPair{}, err
	}

	s.Audit.LogAuthentication(ctx, "", "token_refresh", true, "")
	return pair, nil
}

// Logout revokes the access token and retires the refresh token. Best
// effort: a malformed access token doesn't keep the refresh token alive.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	actorID := ""
	if claims, err := s.Tokens.Verifier.Verify(accessToken); err == nil {
		actorID = claims.Subject
	}

	if err := s.Tokens.Revoke(ctx, accessToken); err != nil && !errors.Is(err, ErrTokenMalformed) {
		return err
	}

	if refreshToken != "" {
		if err := s.Tokens.Revoke(ctx, refreshToken); err != nil && !errors.Is(err, ErrTokenMalformed) {
			return err
		}
		if err := s.Tokens.RevokeRefresh(ctx, refreshToken); err != nil && !errors.Is(err, ErrTokenMalformed) {
			return err
		}
	}

	s.Audit.LogAuthentication(ctx, actorID, "logout", true, "")
	return nil
}
