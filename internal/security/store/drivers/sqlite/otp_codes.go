package sqlite

import (
	"context"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
)

type otpCodesRepo struct {
	db dbtx
}

const otpColumns = `id, identity_key, purpose, code_hash, created_at, expires_at, used, attempt_count, max_attempts`

func (r *otpCodesRepo) CreateOTPCode(ctx context.Context, rec domain.OTPRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_codes (`+otpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IdentityKey, string(rec.Purpose), rec.CodeHash,
		rec.CreatedAt, rec.ExpiresAt, rec.Used, rec.AttemptCount, rec.MaxAttempts,
	)
	return err
}

func (r *otpCodesRepo) GetLatestUnusedOTPCode(ctx context.Context, identityKey string) (domain.OTPRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+otpColumns+` FROM otp_codes
		WHERE identity_key = ? AND used = 0
		ORDER BY created_at DESC
		LIMIT 1`, identityKey)

	var rec domain.OTPRecord
	var purpose string
	err := row.Scan(
		&rec.ID, &rec.IdentityKey, &purpose, &rec.CodeHash,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.Used, &rec.AttemptCount, &rec.MaxAttempts,
	)
	if err != nil {
		return domain.OTPRecord{}, mapNotFound(err)
	}
	rec.Purpose = domain.OTPPurpose(purpose)
	return rec, nil
}

func (r *otpCodesRepo) InvalidateOTPCodes(ctx context.Context, identityKey string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET used = 1 WHERE identity_key = ? AND used = 0`,
		identityKey,
	)
	return err
}

func (r *otpCodesRepo) MarkOTPCodeUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET used = 1 WHERE id = ?`, id)
	return err
}

func (r *otpCodesRepo) IncrementOTPAttempts(ctx context.Context, id string) (domain.OTPRecord, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET attempt_count = attempt_count + 1 WHERE id = ?`, id); err != nil {
		return domain.OTPRecord{}, err
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+otpColumns+` FROM otp_codes WHERE id = ?`, id)

	var rec domain.OTPRecord
	var purpose string
	err := row.Scan(
		&rec.ID, &rec.IdentityKey, &purpose, &rec.CodeHash,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.Used, &rec.AttemptCount, &rec.MaxAttempts,
	)
	if err != nil {
		return domain.OTPRecord{}, mapNotFound(err)
	}
	rec.Purpose = domain.OTPPurpose(purpose)
	return rec, nil
}

func (r *otpCodesRepo) CountOTPCodesSince(ctx context.Context, identityKey string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM otp_codes WHERE identity_key = ? AND created_at > ?`,
		identityKey, since,
	).Scan(&n)
	return n, err
}

func (r *otpCodesRepo) DeleteExpiredOTPCodes(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_codes WHERE expires_at < ?`, now)
	return err
}
