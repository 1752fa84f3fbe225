package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTLs. Access tokens are short-lived; refresh tokens carry the
// long-lived session and are individually revocable via their jti.
const (
	DefaultAccessTokenTTL  = 1 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenType discriminates access from refresh tokens. A token only validates
// in the context it was minted for; an access token presented to the refresh
// endpoint (or vice versa) is rejected regardless of signature validity.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the token claims used across the platform. Additive changes
// only, to preserve compatibility with already-issued tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Role is the subject's role at issue time ("admin", "teacher",
	// "student"). Refresh re-resolves it, so it can go stale on access
	// tokens for at most one access TTL.
	Role string `json:"role,omitempty"`

	// TokenType is the access/refresh discriminator.
	TokenType TokenType `json:"token_type"`
}

// NewClaims builds minimally-correct claims for a subject. The jti is a
// random UUID and is the key for revocation and refresh-registry lookups.
func NewClaims(
	subject, role string,
	tokenType TokenType,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      role,
		TokenType: tokenType,
	}
}
