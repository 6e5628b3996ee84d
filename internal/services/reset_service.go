package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fablehq/accounts/internal/models"
	pkgauth "github.com/fablehq/accounts/pkg/auth"
	"github.com/fablehq/accounts/pkg/logger"
)

// ResetTokenRepository stores one-time password reset tokens.
type ResetTokenRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash string) (string, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// ResetProfileRepository is the profile surface of the reset flow.
type ResetProfileRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
}

// PasswordResetService handles the forgot-password flow: a random
// token mailed to the user, stored hashed, redeemable exactly once.
type PasswordResetService struct {
	resets    ResetTokenRepository
	profiles  ResetProfileRepository
	snapshots SessionSnapshotStore
	email     EmailService
	audit     *logger.AuditLogger
	expiry    time.Duration
	logger    *slog.Logger
}

func NewPasswordResetService(
	resets ResetTokenRepository,
	profiles ResetProfileRepository,
	snapshots SessionSnapshotStore,
	email EmailService,
	audit *logger.AuditLogger,
	tokenExpiry time.Duration,
	log *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		resets:    resets,
		profiles:  profiles,
		snapshots: snapshots,
		email:     email,
		audit:     audit,
		expiry:    tokenExpiry,
		logger:    log,
	}
}

// RequestReset issues a reset token for the account behind email. It
// always reports success to the caller so the endpoint cannot be used
// to enumerate accounts.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, clientIP string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if err != models.ErrNotFound {
			s.logger.Error("reset lookup failed", slog.Any("error", err))
		}
		// Unknown address: report success anyway.
		s.audit.LogAuthAttempt("password_reset_request", email, clientIP, false)
		return nil
	}

	plainToken, tokenHash, err := newResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	expiresAt := time.Now().Add(s.expiry)

	if err := s.resets.Create(ctx, profile.ID, tokenHash, expiresAt); err != nil {
		s.logger.Error("failed to store reset token",
			slog.String("user_id", profile.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.SendPasswordResetEmail(ctx, profile.Email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send reset email",
			slog.String("user_id", profile.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAuthAttempt("password_reset_request", email, clientIP, true)
	return nil
}

// ConfirmReset redeems a token and sets the new password. The token is
// consumed atomically, so a replay of the same link fails. All session
// snapshots of the user are dropped so stale sessions re-authenticate.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, plainToken, newPassword string) error {
	if plainToken == "" {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.ErrBadRequest
	}

	hash := sha256.Sum256([]byte(plainToken))
	userID, err := s.resets.Consume(ctx, hex.EncodeToString(hash[:]))
	if err != nil {
		if err == models.ErrResetTokenUsed {
			return models.ErrResetTokenUsed
		}
		s.logger.Error("reset token redemption failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("password hashing failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.profiles.SetPassword(ctx, userID, passwordHash); err != nil {
		s.logger.Error("password write failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.snapshots.Delete(ctx, userID); err != nil {
		s.logger.Warn("failed to drop session after password reset",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	s.logger.Info("password reset completed", slog.String("user_id", userID))
	return nil
}

func newResetToken() (plain, hashed string, err error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}

	plain = base64.URLEncoding.EncodeToString(tokenBytes)
	hash := sha256.Sum256([]byte(plain))
	return plain, hex.EncodeToString(hash[:]), nil
}

// LogEmailService is the no-SES fallback used in development: it logs
// the token instead of mailing it.
type LogEmailService struct {
	Logger *slog.Logger
}

func (s *LogEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.Logger.Info("email delivery disabled, logging reset token",
		slog.String("email", email),
		slog.String("token", token),
		slog.Time("expires_at", expiresAt))
	return nil
}
