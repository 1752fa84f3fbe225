package jwtx

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("jwtx: malformed token")
	ErrExpired   = errors.New("jwtx: token expired")
)

// Verifier validates a JWT and gives you back the claims if it's legit.
// Expired and malformed are distinguished so the caller can log them apart,
// even when the response to the end user is uniform.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Leeway allows small clock skew when validating exp/nbf/iat.
	// Because time sync is never perfect.
	Leeway time.Duration
}

// HS256Verifier verifies tokens signed with NewSignerHS256.
type HS256Verifier struct {
	key  []byte
	opts VerifyOptions
}

func NewVerifierHS256(key []byte, opts VerifyOptions) *HS256Verifier {
	return &HS256Verifier{key: key, opts: opts}
}

func (v *HS256Verifier) Verify(token string) (Claims, error) {
	return parse(token, jwt.SigningMethodHS256.Alg(), v.opts, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
}

// EdDSAVerifier verifies tokens signed with NewSignerEdDSA.
type EdDSAVerifier struct {
	pub  ed25519.PublicKey
	opts VerifyOptions
}

func NewVerifierEdDSA(pub ed25519.PublicKey, opts VerifyOptions) *EdDSAVerifier {
	return &EdDSAVerifier{pub: pub, opts: opts}
}

func (v *EdDSAVerifier) Verify(token string) (Claims, error) {
	return parse(token, jwt.SigningMethodEdDSA.Alg(), v.opts, func(*jwt.Token) (any, error) {
		return v.pub, nil
	})
}

func parse(token, alg string, opts VerifyOptions, keyFn jwt.Keyfunc) (Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
	}
	if opts.Leeway > 0 {
		options = append(options, jwt.WithLeeway(opts.Leeway))
	}
	if opts.Issuer != "" {
		options = append(options, jwt.WithIssuer(opts.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, keyFn)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformed
	}
	return *claims, nil
}
