package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"
	"time"

	"github.com/fablehq/accounts/internal/models"
	pkgauth "github.com/fablehq/accounts/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResetService(resets ResetTokenRepository, profiles ResetProfileRepository, snapshots SessionSnapshotStore, email EmailService) *PasswordResetService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	if email == nil {
		email = &MockEmailService{}
	}
	return NewPasswordResetService(resets, profiles, snapshots, email, testAudit(), time.Hour, slog.Default())
}

func TestRequestReset_SendsHashedToken(t *testing.T) {
	var storedHash string
	var mailedToken string

	resets := &MockResetTokenRepository{
		CreateFunc: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
			storedHash = tokenHash
			return nil
		},
	}
	profiles := &MockProfileRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Profile, error) {
			return NewTestProfile("u1", email, "reader"), nil
		},
	}
	email := &MockEmailService{
		SendPasswordResetEmailFunc: func(ctx context.Context, email, token string, expiresAt time.Time) error {
			mailedToken = token
			return nil
		},
	}

	svc := newResetService(resets, profiles, nil, email)

	require.NoError(t, svc.RequestReset(context.Background(), "user@example.com", "10.0.0.1"))
	require.NotEmpty(t, mailedToken)

	// Only the hash hits the database.
	sum := sha256.Sum256([]byte(mailedToken))
	assert.Equal(t, hex.EncodeToString(sum[:]), storedHash)
	assert.NotEqual(t, mailedToken, storedHash)
}

func TestRequestReset_UnknownEmailSucceedsSilently(t *testing.T) {
	sent := false
	email := &MockEmailService{
		SendPasswordResetEmailFunc: func(ctx context.Context, email, token string, expiresAt time.Time) error {
			sent = true
			return nil
		},
	}

	svc := newResetService(&MockResetTokenRepository{}, &MockProfileRepository{}, nil, email)

	err := svc.RequestReset(context.Background(), "ghost@example.com", "10.0.0.1")

	assert.NoError(t, err, "unknown addresses must not be distinguishable")
	assert.False(t, sent)
}

func TestConfirmReset_SetsPasswordAndDropsSession(t *testing.T) {
	var newHash string

	resets := &MockResetTokenRepository{
		ConsumeFunc: func(ctx context.Context, tokenHash string) (string, error) {
			return "u1", nil
		},
	}
	profiles := &MockProfileRepository{
		SetPasswordFunc: func(ctx context.Context, id, passwordHash string) error {
			newHash = passwordHash
			return nil
		},
	}
	snapshots := NewMemorySnapshotStore()
	require.NoError(t, snapshots.Save(context.Background(), &models.SessionUser{UserID: "u1"}))

	svc := newResetService(resets, profiles, snapshots, nil)

	require.NoError(t, svc.ConfirmReset(context.Background(), "plain-token", "N3wPassword!"))

	assert.NoError(t, pkgauth.VerifyPassword(newHash, "N3wPassword!"))

	_, err := snapshots.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConfirmReset_ReplayedTokenRejected(t *testing.T) {
	used := false
	resets := &MockResetTokenRepository{
		ConsumeFunc: func(ctx context.Context, tokenHash string) (string, error) {
			if used {
				return "", models.ErrResetTokenUsed
			}
			used = true
			return "u1", nil
		},
	}

	svc := newResetService(resets, &MockProfileRepository{}, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.ConfirmReset(ctx, "plain-token", "N3wPassword!"))

	err := svc.ConfirmReset(ctx, "plain-token", "An0therPass!")
	assert.ErrorIs(t, err, models.ErrResetTokenUsed)
}

func TestConfirmReset_WeakPasswordRejectedBeforeConsume(t *testing.T) {
	consumed := false
	resets := &MockResetTokenRepository{
		ConsumeFunc: func(ctx context.Context, tokenHash string) (string, error) {
			consumed = true
			return "u1", nil
		},
	}

	svc := newResetService(resets, &MockProfileRepository{}, nil, nil)

	err := svc.ConfirmReset(context.Background(), "plain-token", "short")

	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.False(t, consumed, "a rejected password must not burn the token")
}
