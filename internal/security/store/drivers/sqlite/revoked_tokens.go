package sqlite

import (
	"context"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
)

type revokedTokensRepo struct {
	db dbtx
}

func (r *revokedTokensRepo) RevokeToken(ctx context.Context, rec domain.RevokedToken) error {
	// INSERT OR IGNORE keeps revocation idempotent.
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO revoked_tokens (jti, revoked_at, expires_at)
		VALUES (?, ?, ?)`,
		rec.JTI, rec.RevokedAt, rec.ExpiresAt,
	)
	return err
}

func (r *revokedTokensRepo) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *revokedTokensRepo) DeleteExpiredRevocations(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now)
	return err
}
