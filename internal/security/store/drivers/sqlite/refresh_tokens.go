package sqlite

import (
	"context"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/store"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, rec domain.RefreshTokenRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, subject_id, issued_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		rec.JTI, rec.SubjectID, rec.IssuedAt, rec.ExpiresAt,
	)
	return err
}

func (r *refreshTokensRepo) GetRefreshToken(ctx context.Context, jti string) (domain.RefreshTokenRecord, error) {
	var rec domain.RefreshTokenRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT jti, subject_id, issued_at, expires_at
		FROM refresh_tokens WHERE jti = ?`, jti,
	).Scan(&rec.JTI, &rec.SubjectID, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		return domain.RefreshTokenRecord{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *refreshTokensRepo) DeleteRefreshToken(ctx context.Context, jti string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE jti = ?`, jti)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, now)
	return err
}
