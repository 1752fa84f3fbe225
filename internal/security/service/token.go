package service

import (
	"context"
	"errors"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/store"
	"github.com/agriquest/authcore/pkg/jwtx"
	"github.com/agriquest/authcore/pkg/slogx"
)

var (
	ErrTokenExpired             = errors.New("token_expired")
	ErrTokenMalformed           = errors.New("token_malformed")
	ErrTokenRevoked             = errors.New("token_revoked")
	ErrTokenTypeMismatch        = errors.New("token_type_mismatch")
	ErrRefreshFamilyInvalidated = errors.New("refresh_family_invalidated")
)

// TokenService mints and validates the access/refresh token pairs. Access
// tokens are stateless JWTs checked against a revocation set; refresh tokens
// additionally live in a store-backed registry, and rotation removes the
// presented token's registry entry, so each refresh token is single use.
type TokenService struct {
	Store    store.Store
	Signer   jwtx.Signer
	Verifier jwtx.Verifier

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewTokenService(st store.Store, signer jwtx.Signer, verifier jwtx.Verifier, issuer string) *TokenService {
	return &TokenService{
		Store:      st,
		Signer:     signer,
		Verifier:   verifier,
		Issuer:     issuer,
		AccessTTL:  jwtx.DefaultAccessTokenTTL,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
	}
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// IssuePair signs a fresh access + refresh pair for the subject and records
// the refresh token's jti in the registry.
func (s *TokenService) IssuePair(ctx context.Context, subjectID string, role domain.Role) (domain.TokenPair, error) {
	now := s.now()

	accessClaims := jwtx.NewClaims(subjectID, string(role), jwtx.TokenTypeAccess, s.AccessTTL, s.Issuer, now)
	accessToken, err := s.Signer.Sign(accessClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refreshClaims := jwtx.NewClaims(subjectID, string(role), jwtx.TokenTypeRefresh, s.RefreshTTL, s.Issuer, now)
	refreshToken, err := s.Signer.Sign(refreshClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}

	err = s.Store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshTokenRecord{
		JTI:       refreshClaims.ID,
		SubjectID: subjectID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.RefreshTTL),
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.AccessTTL / time.Second),
	}, nil
}

// Verify validates a token end to end: signature and standard claims, then
// the token_type discriminator, then the revocation set. The distinct
// sentinels exist for audit trails; user-facing surfaces collapse them into
// one generic failure.
func (s *TokenService) Verify(ctx context.Context, token string, expected jwtx.TokenType) (jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			return jwtx.Claims{}, ErrTokenExpired
		}
		return jwtx.Claims{}, ErrTokenMalformed
	}

	if claims.TokenType != expected {
		return jwtx.Claims{}, ErrTokenTypeMismatch
	}

	revoked, err := s.Store.RevokedTokens().IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if revoked {
		return jwtx.Claims{}, ErrTokenRevoked
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a fresh pair. The presented token's
// registry entry is removed in the same transaction that records the new one,
// so replaying the old token fails with ErrRefreshFamilyInvalidated. The
// subject's role is re-resolved from the store, so role changes take effect
// at the next refresh rather than riding out the full 30 days.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	claims, err := s.Verify(ctx, refreshToken, jwtx.TokenTypeRefresh)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if _, err := s.Store.RefreshTokens().GetRefreshToken(ctx, claims.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Warn("refresh token replayed or already rotated", "subject", claims.Subject)
			return domain.TokenPair{}, ErrRefreshFamilyInvalidated
		}
		return domain.TokenPair{}, err
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrRefreshFamilyInvalidated
		}
		return domain.TokenPair{}, err
	}

	accessClaims := jwtx.NewClaims(user.ID, string(user.Role), jwtx.TokenTypeAccess, s.AccessTTL, s.Issuer, now)
	accessToken, err := s.Signer.Sign(accessClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}

	newRefreshClaims := jwtx.NewClaims(user.ID, string(user.Role), jwtx.TokenTypeRefresh, s.RefreshTTL, s.Issuer, now)
	newRefreshToken, err := s.Signer.Sign(newRefreshClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// Deleting the presented jti is the single-use guard: if a racing
		// rotation already consumed it, zero rows come back and this
		// exchange loses, regardless of what the earlier registry read saw.
		if err := tx.RefreshTokens().DeleteRefreshToken(ctx, claims.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRefreshFamilyInvalidated
			}
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshTokenRecord{
			JTI:       newRefreshClaims.ID,
			SubjectID: user.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.RefreshTTL),
		})
	})
	if err != nil {
		if errors.Is(err, ErrRefreshFamilyInvalidated) {
			l.Warn("refresh token consumed by a concurrent rotation", "subject", claims.Subject)
			return domain.TokenPair{}, ErrRefreshFamilyInvalidated
		}
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.AccessTTL / time.Second),
	}, nil
}

// Revoke adds the token's jti to the revocation set, keyed with the token's
// own expiry so housekeeping can prune the entry once it would have died of
// old age. Works for either token type.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			// Already dead; nothing to revoke.
			return nil
		}
		return ErrTokenMalformed
	}

	return s.Store.RevokedTokens().RevokeToken(ctx, domain.RevokedToken{
		JTI:       claims.ID,
		RevokedAt: s.now(),
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// RevokeRefresh removes a refresh token's registry entry without touching the
// revocation set. Missing entries are fine; removal is the goal.
func (s *TokenService) RevokeRefresh(ctx context.Context, token string) error {
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		return ErrTokenMalformed
	}

	if err := s.Store.RefreshTokens().DeleteRefreshToken(ctx, claims.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// CleanupExpired purges registry rows and revocation entries past their
// expiry. Idempotent.
func (s *TokenService) CleanupExpired(ctx context.Context) error {
	now := s.now()
	if err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now); err != nil {
		return err
	}
	return s.Store.RevokedTokens().DeleteExpiredRevocations(ctx, now)
}
