package domain

import "time"

// TokenPair is what a successful authentication returns: a short-lived JWT
// access token and a long-lived JWT refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"` // always "Bearer"
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// RefreshTokenRecord is the registry entry for an outstanding refresh token,
// keyed by the token's jti. A refresh exchange is only honoured while the
// presented token's jti is present here; rotation removes the entry, which is
// what makes a refresh token single-use.
type RefreshTokenRecord struct {
	JTI       string
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevokedToken is a revocation-set entry. ExpiresAt mirrors the underlying
// token's expiry so entries can be pruned once the token would have died of
// old age anyway.
type RevokedToken struct {
	JTI       string
	RevokedAt time.Time
	ExpiresAt time.Time
}
