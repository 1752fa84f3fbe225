package store

import (
	"context"
	"errors"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement this. The security core only ever talks through these narrow
// contracts, so the backing technology can change without touching the
// services.
type Store interface {
	Users() Users
	OTPCodes() OTPCodes
	RefreshTokens() RefreshTokens
	RevokedTokens() RevokedTokens
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Use it for
	// multi-step operations that must be atomic (e.g. issue-new /
	// invalidate-old OTP records).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store scoped to a single transaction.
type Tx interface {
	Users() Users
	OTPCodes() OTPCodes
	RefreshTokens() RefreshTokens
	RevokedTokens() RevokedTokens
	AuditEvents() AuditEvents
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByIdentifier looks a user up by sign-in identifier (email/phone).
	GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// MarkUserVerified flips the verified flag after a successful
	// registration OTP check.
	MarkUserVerified(ctx context.Context, userID string) error
}

type OTPCodes interface {
	// CreateOTPCode stores a freshly issued code record (hash only).
	CreateOTPCode(ctx context.Context, rec domain.OTPRecord) error

	// GetLatestUnusedOTPCode returns the most recent unused record for an
	// identity key, expired or not; the service decides what expiry means.
	GetLatestUnusedOTPCode(ctx context.Context, identityKey string) (domain.OTPRecord, error)

	// InvalidateOTPCodes marks every record for the identity key as used.
	// Called before storing a new record so at most one stays active.
	InvalidateOTPCodes(ctx context.Context, identityKey string) error

	// MarkOTPCodeUsed consumes a record after successful verification.
	MarkOTPCodeUsed(ctx context.Context, id string) error

	// IncrementOTPAttempts bumps the failed-attempt counter atomically and
	// returns the updated record.
	IncrementOTPAttempts(ctx context.Context, id string) (domain.OTPRecord, error)

	// CountOTPCodesSince counts records created for the key after the given
	// time, used for the issuance-rate guard.
	CountOTPCodesSince(ctx context.Context, identityKey string, since time.Time) (int, error)

	// DeleteExpiredOTPCodes is housekeeping; idempotent.
	DeleteExpiredOTPCodes(ctx context.Context, now time.Time) error
}

type RefreshTokens interface {
	// CreateRefreshToken records an outstanding refresh token by jti.
	CreateRefreshToken(ctx context.Context, rec domain.RefreshTokenRecord) error

	// GetRefreshToken returns the registry entry for a jti.
	GetRefreshToken(ctx context.Context, jti string) (domain.RefreshTokenRecord, error)

	// DeleteRefreshToken removes the entry; this is what retires a refresh
	// token family on rotation or logout. Returns ErrNotFound when no entry
	// was deleted, so a rotation racing another rotation can tell it lost.
	DeleteRefreshToken(ctx context.Context, jti string) error

	// DeleteExpiredRefreshTokens is housekeeping; idempotent.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error
}

type RevokedTokens interface {
	// RevokeToken adds a jti to the revocation set with the token's own
	// expiry, so the entry can be pruned once the token would have expired.
	RevokeToken(ctx context.Context, rec domain.RevokedToken) error

	// IsTokenRevoked reports membership in the revocation set.
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	// DeleteExpiredRevocations is housekeeping; idempotent.
	DeleteExpiredRevocations(ctx context.Context, now time.Time) error
}

type AuditEvents interface {
	// AppendAuditEvent writes one immutable event. There is deliberately no
	// update or delete.
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error

	// QueryAuditEvents returns events matching the filter, newest first.
	QueryAuditEvents(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error)

	// CountsByCategorySeverity aggregates events in a window for reporting.
	CountsByCategorySeverity(ctx context.Context, from, to time.Time) ([]domain.CategorySeverityCount, error)

	// CountFailedAuthentications counts failed authentication events in a window.
	CountFailedAuthentications(ctx context.Context, from, to time.Time) (int, error)

	// ListSuspiciousActors returns identifiers with more than threshold
	// failed events in the window, most failures first.
	ListSuspiciousActors(ctx context.Context, from, to time.Time, threshold int) ([]domain.SuspiciousActor, error)
}
