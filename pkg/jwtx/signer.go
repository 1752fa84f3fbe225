package jwtx

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign platform JWTs.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HS256Signer signs with a shared secret. This is the default for the
// single-service deployment where issuer and verifier are the same process.
type HS256Signer struct {
	key []byte
}

// NewSignerHS256 creates an HS256 signer. Keys shorter than 32 bytes are
// rejected; a guessable secret defeats every other control in the core.
func NewSignerHS256(key []byte) (*HS256Signer, error) {
	if len(key) < 32 {
		return nil, errors.New("jwtx: hs256 key must be at least 32 bytes")
	}
	return &HS256Signer{key: key}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }

func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.key)
}

// EdDSASigner signs with an Ed25519 private key, for deployments where other
// services verify tokens without sharing a secret.
type EdDSASigner struct {
	key ed25519.PrivateKey
}

// NewSignerEdDSA creates an EdDSA signer from either a raw Ed25519 private
// key or PKCS8 PEM bytes.
func NewSignerEdDSA(keyBytes []byte) (*EdDSASigner, error) {
	key, err := parseEdPrivateKey(keyBytes)
	if err != nil {
		return nil, err
	}
	return &EdDSASigner{key: key}, nil
}

func (s *EdDSASigner) Alg() string { return jwt.SigningMethodEdDSA.Alg() }

func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return t.SignedString(s.key)
}

// Public returns the verification key for the signer's private key.
func (s *EdDSASigner) Public() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("jwtx: invalid ed25519 private key: %w", err)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not an ed25519 private key")
	}
	return edKey, nil
}
