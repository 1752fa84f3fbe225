package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestHS256RoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerHS256(testKey)
	require.NoError(t, err)
	verifier := NewVerifierHS256(testKey, VerifyOptions{Issuer: "authcore"})

	claims := NewClaims("user-1", "teacher", TokenTypeAccess, time.Hour, "authcore", time.Now())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, "teacher", got.Role)
	require.Equal(t, TokenTypeAccess, got.TokenType)
	require.Equal(t, claims.ID, got.ID)
}

func TestHS256KeyLength(t *testing.T) {
	t.Parallel()

	_, err := NewSignerHS256([]byte("too short"))
	require.Error(t, err)

	_, err = NewSignerHS256(testKey)
	require.NoError(t, err)
}

func TestEdDSARoundTrip(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewSignerEdDSA(priv)
	require.NoError(t, err)
	require.Equal(t, pub, signer.Public())

	verifier := NewVerifierEdDSA(pub, VerifyOptions{Issuer: "authcore"})

	claims := NewClaims("user-2", "student", TokenTypeRefresh, time.Hour, "authcore", time.Now())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-2", got.Subject)
	require.Equal(t, TokenTypeRefresh, got.TokenType)
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	signer, err := NewSignerHS256(testKey)
	require.NoError(t, err)

	t.Run("garbage is malformed", func(t *testing.T) {
		verifier := NewVerifierHS256(testKey, VerifyOptions{})
		_, err := verifier.Verify("not.a.jwt")
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("expired is reported distinctly", func(t *testing.T) {
		verifier := NewVerifierHS256(testKey, VerifyOptions{})
		claims := NewClaims("user-1", "", TokenTypeAccess, -time.Minute, "authcore", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, ErrExpired)
	})

	t.Run("leeway tolerates recent expiry", func(t *testing.T) {
		verifier := NewVerifierHS256(testKey, VerifyOptions{Leeway: time.Minute})
		claims := NewClaims("user-1", "", TokenTypeAccess, -10*time.Second, "authcore", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.NoError(t, err)
	})

	t.Run("issuer mismatch fails", func(t *testing.T) {
		verifier := NewVerifierHS256(testKey, VerifyOptions{Issuer: "someone-else"})
		claims := NewClaims("user-1", "", TokenTypeAccess, time.Hour, "authcore", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		verifier := NewVerifierHS256([]byte("ffffffffffffffffffffffffffffffff"), VerifyOptions{})
		claims := NewClaims("user-1", "", TokenTypeAccess, time.Hour, "authcore", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("cross-algorithm tokens fail", func(t *testing.T) {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		verifier := NewVerifierEdDSA(pub, VerifyOptions{})

		claims := NewClaims("user-1", "", TokenTypeAccess, time.Hour, "authcore", time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestNewClaims(t *testing.T) {
	t.Parallel()

	now := time.Now().Truncate(time.Second)
	claims := NewClaims("user-9", "admin", TokenTypeAccess, 2*time.Hour, "authcore", now)

	require.Equal(t, "user-9", claims.Subject)
	require.Equal(t, "authcore", claims.Issuer)
	require.True(t, claims.IssuedAt.Time.Equal(now))
	require.True(t, claims.ExpiresAt.Time.Equal(now.Add(2*time.Hour)))
	require.NotEmpty(t, claims.ID)

	// jtis are unique per mint.
	other := NewClaims("user-9", "admin", TokenTypeAccess, 2*time.Hour, "authcore", now)
	require.NotEqual(t, claims.ID, other.ID)
}
