package service

import (
	"context"
	"testing"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/stretchr/testify/require"
)

func newTestOTPService(t *testing.T) (*OTPService, *testClock) {
	t.Helper()

	clock := newTestClock()
	svc := NewOTPService(newTestStore(t))
	svc.Now = clock.Now
	return svc, clock
}

func TestOTPIssue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("issues a six digit code by default", func(t *testing.T) {
		svc, _ := newTestOTPService(t)

		code, rec, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.NotEqual(t, code, rec.CodeHash)
		require.Equal(t, 3, rec.MaxAttempts)
		require.Equal(t, 0, rec.AttemptCount)
	})

	t.Run("login codes live five minutes, reset codes three", func(t *testing.T) {
		svc, clock := newTestOTPService(t)

		_, login, err := svc.Issue(ctx, "a@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)
		require.Equal(t, clock.Now().Add(5*time.Minute), login.ExpiresAt)

		_, reset, err := svc.Issue(ctx, "b@example.com", domain.OTPPurposePasswordReset)
		require.NoError(t, err)
		require.Equal(t, clock.Now().Add(3*time.Minute), reset.ExpiresAt)
	})

	t.Run("issuing again invalidates the prior code", func(t *testing.T) {
		svc, _ := newTestOTPService(t)

		first, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)

		second, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)

		// Only the newest code verifies. Codes can collide by chance, so
		// only assert on the stale one when they differ.
		if first != second {
			err = svc.Verify(ctx, "student@example.com", first)
			require.ErrorIs(t, err, ErrCodeMismatch)
		}
		require.NoError(t, svc.Verify(ctx, "student@example.com", second))
	})

	t.Run("issuance is capped per trailing hour", func(t *testing.T) {
		svc, clock := newTestOTPService(t)

		for range 5 {
			_, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
			require.NoError(t, err)
		}

		_, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.ErrorIs(t, err, ErrIssuanceLimited)

		// The guard is per identity key.
		_, _, err = svc.Issue(ctx, "other@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)

		// And it releases once the window slides past.
		clock.Advance(61 * time.Minute)
		_, _, err = svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)
	})
}

func TestOTPVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("correct code verifies exactly once", func(t *testing.T) {
		svc, _ := newTestOTPService(t)

		code, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)

		require.NoError(t, svc.Verify(ctx, "student@example.com", code))

		// Consumed; the same code does not verify again.
		err = svc.Verify(ctx, "student@example.com", code)
		require.ErrorIs(t, err, ErrNoActiveCode)
	})

	t.Run("no active code", func(t *testing.T) {
		svc, _ := newTestOTPService(t)

		err := svc.Verify(ctx, "nobody@example.com", "123456")
		require.ErrorIs(t, err, ErrNoActiveCode)
	})

	t.Run("expired code", func(t *testing.T) {
		svc, clock := newTestOTPService(t)

		code, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)

		clock.Advance(5*time.Minute + time.Second)
		err = svc.Verify(ctx, "student@example.com", code)
		require.ErrorIs(t, err, ErrCodeExpired)
	})

	t.Run("mismatches count down and then exhaust", func(t *testing.T) {
		svc, _ := newTestOTPService(t)

		code, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}

		for _, wantRemaining := range []int{2, 1, 0} {
			err := svc.Verify(ctx, "student@example.com", wrong)
			require.ErrorIs(t, err, ErrCodeMismatch)

			var mismatch *CodeMismatchError
			require.ErrorAs(t, err, &mismatch)
			require.Equal(t, wantRemaining, mismatch.Remaining)
		}

		// The burning attempt reported "0 remaining"; only now is the
		// record terminally exhausted, even for the correct code.
		err = svc.Verify(ctx, "student@example.com", wrong)
		require.ErrorIs(t, err, ErrAttemptsExhausted)
		err = svc.Verify(ctx, "student@example.com", code)
		require.ErrorIs(t, err, ErrAttemptsExhausted)
	})

	t.Run("exhaustion outranks expiry", func(t *testing.T) {
		svc, clock := newTestOTPService(t)

		code, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}

		for range 3 {
			err := svc.Verify(ctx, "student@example.com", wrong)
			require.ErrorIs(t, err, ErrCodeMismatch)
		}

		clock.Advance(10 * time.Minute)
		err = svc.Verify(ctx, "student@example.com", code)
		require.ErrorIs(t, err, ErrAttemptsExhausted)
	})
}

func TestOTPRemainingAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _ := newTestOTPService(t)

	t.Run("full allowance with no active record", func(t *testing.T) {
		remaining, err := svc.RemainingAttempts(ctx, "nobody@example.com")
		require.NoError(t, err)
		require.Equal(t, 3, remaining)
	})

	t.Run("tracks failed attempts", func(t *testing.T) {
		code, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
		require.NoError(t, err)
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}

		_ = svc.Verify(ctx, "student@example.com", wrong)

		remaining, err := svc.RemainingAttempts(ctx, "student@example.com")
		require.NoError(t, err)
		require.Equal(t, 2, remaining)
	})
}

func TestOTPCleanupExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, clock := newTestOTPService(t)

	_, _, err := svc.Issue(ctx, "student@example.com", domain.OTPPurposeLogin)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	require.NoError(t, svc.CleanupExpired(ctx))
	require.NoError(t, svc.CleanupExpired(ctx)) // idempotent

	err = svc.Verify(ctx, "student@example.com", "123456")
	require.ErrorIs(t, err, ErrNoActiveCode)
}
