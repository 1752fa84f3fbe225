package domain

import "time"

// OTPPurpose names the flow a code was issued for. It selects the issuance
// TTL and is recorded for the audit trail; verification always targets the
// identity's single active code, whatever flow minted it, because issuing a
// new code invalidates every earlier one for that identity.
type OTPPurpose string

const (
	OTPPurposeRegister      OTPPurpose = "register"
	OTPPurposeLogin         OTPPurpose = "login"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// OTPRecord models a stored one-time passcode. Only the keyed hash of the
// code is persisted; the plaintext exists just long enough to hand to the
// notification gateway.
//
// At most one record per identity key is active (unused, unexpired) at a
// time: issuing a new code marks all prior records for the key as used.
type OTPRecord struct {
	ID           string
	IdentityKey  string // email or phone the code was issued to
	Purpose      OTPPurpose
	CodeHash     string // keyed HMAC-SHA256 digest, never the code itself
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Used         bool
	AttemptCount int
	MaxAttempts  int
}

// Active reports whether the record can still be verified at the given time.
func (r OTPRecord) Active(now time.Time) bool {
	return !r.Used && now.Before(r.ExpiresAt)
}
