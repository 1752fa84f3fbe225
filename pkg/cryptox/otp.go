package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// OTP length bounds. Requested lengths outside this range fall back to the
// default rather than erroring, so a bad config value degrades safely.
const (
	OTPMinDigits     = 4
	OTPMaxDigits     = 8
	OTPDefaultDigits = 6
)

// GenerateOTP returns a cryptographically secure numeric code of the given
// length. Lengths outside [OTPMinDigits, OTPMaxDigits] fall back to
// OTPDefaultDigits.
func GenerateOTP(length int) (string, error) {
	if length < OTPMinDigits || length > OTPMaxDigits {
		length = OTPDefaultDigits
	}

	// Uniform over [10^(n-1), 10^n) so the code always has exactly n digits.
	min := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	span := new(big.Int).Sub(max, min)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return n.Add(n, min).String(), nil
}

// HashOTP returns a keyed digest of the code bound to the identity key it was
// issued for. The identity key acts as a salt (a code guessed for one
// identity is useless against another) and the process pepper keys the HMAC.
// Only this digest is ever persisted.
func HashOTP(code, identityKey string) string {
	mac := hmac.New(sha256.New, []byte(GetPepper()))
	mac.Write([]byte(code))
	mac.Write([]byte(":"))
	mac.Write([]byte(identityKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOTPHash recomputes the keyed digest for the supplied code and
// compares it to the stored digest in constant time.
func VerifyOTPHash(code, identityKey, storedHash string) bool {
	computed := HashOTP(code, identityKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
