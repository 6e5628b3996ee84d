package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablehq/accounts/internal/cache"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/notifier"
	"github.com/fablehq/accounts/pkg/logger"
)

// BanProfileRepository is the profile surface the ban resolver needs.
type BanProfileRepository interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	SetBan(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error
	ClearBan(ctx context.Context, id string) error
}

// BanRecordRepository is the moderation-log surface.
type BanRecordRepository interface {
	Create(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, error)
	LatestActive(ctx context.Context, userID string) (*models.BanRecord, error)
	Deactivate(ctx context.Context, userID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error)
}

// BanService resolves live ban status and runs the moderation ban
// lifecycle. The profile row is the source of truth; ban records are a
// best-effort audit log synchronized lazily.
type BanService struct {
	profiles     BanProfileRepository
	bans         BanRecordRepository
	cache        *cache.ProfileCache
	notifier     notifier.Notifier
	audit        *logger.AuditLogger
	isSuperAdmin func(email string) bool
	now          func() time.Time
	logger       *slog.Logger
}

func NewBanService(
	profiles BanProfileRepository,
	bans BanRecordRepository,
	profileCache *cache.ProfileCache,
	n notifier.Notifier,
	audit *logger.AuditLogger,
	isSuperAdmin func(email string) bool,
	now func() time.Time,
	log *slog.Logger,
) *BanService {
	if now == nil {
		now = time.Now
	}
	return &BanService{
		profiles:     profiles,
		bans:         bans,
		cache:        profileCache,
		notifier:     n,
		audit:        audit,
		isSuperAdmin: isSuperAdmin,
		now:          now,
		logger:       log,
	}
}

var notBanned = &models.BanStatus{Banned: false}

// CheckBan resolves whether a user is currently banned. It never
// returns an error: any store failure is treated as "not banned" so an
// outage cannot lock out a legitimate user. The flip side — an outage
// also never enforces a ban — is accepted for availability.
func (s *BanService) CheckBan(ctx context.Context, userID string) *models.BanStatus {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("ban check failed, treating user as not banned",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return notBanned
	}

	if !profile.IsBanned {
		return notBanned
	}

	if profile.BanEndAt != nil && profile.BanEndAt.Before(s.now()) {
		s.clearExpiredBan(ctx, profile)
		return notBanned
	}

	status := &models.BanStatus{
		Banned:    true,
		Permanent: profile.BanEndAt == nil,
		EndAt:     profile.BanEndAt,
	}
	if profile.BanReason != nil {
		status.Reason = *profile.BanReason
	}
	if profile.BanAdminName != nil {
		status.AdminName = *profile.BanAdminName
	}

	// Enrich from the moderation log; the profile fields alone are
	// still a complete answer if the log is unavailable.
	rec, err := s.bans.LatestActive(ctx, userID)
	if err != nil {
		s.logger.Debug("ban record lookup failed, using profile fields only",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return status
	}

	status.BanType = rec.BanType
	if status.Reason == "" {
		status.Reason = rec.Reason
	}
	if status.AdminName == "" {
		status.AdminName = rec.AdminName
	}

	return status
}

// clearExpiredBan writes the expiry back to the store. Both writes are
// best effort; the caller already decided the user is not banned.
func (s *BanService) clearExpiredBan(ctx context.Context, profile *models.Profile) {
	if err := s.profiles.ClearBan(ctx, profile.ID); err != nil {
		s.logger.Error("failed to clear expired ban on profile",
			slog.String("user_id", profile.ID),
			slog.Any("error", err))
	}

	if err := s.bans.Deactivate(ctx, profile.ID); err != nil {
		s.logger.Error("failed to deactivate expired ban record",
			slog.String("user_id", profile.ID),
			slog.Any("error", err))
	}

	s.cache.Invalidate(profile.ID)

	s.logger.Info("expired ban cleared", slog.String("user_id", profile.ID))
}

// Ban bans a user. A zero duration is a permanent ban. The profile row
// is written first; a ban-record failure is logged but does not undo
// the ban, since the profile is the source of truth.
func (s *BanService) Ban(ctx context.Context, admin *models.Profile, userID, reason string, duration time.Duration) error {
	target, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if err == models.ErrNotFound {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load ban target", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if s.isSuperAdmin(target.Email) {
		return models.ErrForbidden
	}

	var endAt *time.Time
	if duration > 0 {
		t := s.now().Add(duration)
		endAt = &t
	}

	if err := s.profiles.SetBan(ctx, userID, reason, endAt, admin.ID, admin.DisplayName); err != nil {
		s.logger.Error("failed to write ban to profile", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.bans.Create(ctx, &models.BanRecord{
		UserID:    userID,
		AdminID:   admin.ID,
		AdminName: admin.DisplayName,
		Reason:    reason,
		EndAt:     endAt,
		BanType:   models.BanTypeForDuration(duration),
	}); err != nil {
		s.logger.Error("failed to append ban record, profile ban stands",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	s.cache.Invalidate(userID)

	if err := s.notifier.Emit(ctx, notifier.EventProfileBanned, map[string]string{"user_id": userID}); err != nil {
		s.logger.Warn("failed to broadcast ban", slog.Any("error", err))
	}

	s.audit.LogModerationAction("user_banned", admin.ID, userID, map[string]any{
		"reason":   reason,
		"ban_type": models.BanTypeForDuration(duration),
	})

	return nil
}

// Unban lifts a ban: clears the profile fields and deactivates the
// active ban record.
func (s *BanService) Unban(ctx context.Context, admin *models.Profile, userID string) error {
	if err := s.profiles.ClearBan(ctx, userID); err != nil {
		if err == models.ErrNotFound {
			return models.ErrNotFound
		}
		s.logger.Error("failed to clear ban on profile", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.bans.Deactivate(ctx, userID); err != nil {
		s.logger.Error("failed to deactivate ban record on unban",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	s.cache.Invalidate(userID)

	if err := s.notifier.Emit(ctx, notifier.EventProfileUpdated, map[string]string{"user_id": userID}); err != nil {
		s.logger.Warn("failed to broadcast unban", slog.Any("error", err))
	}

	s.audit.LogModerationAction("user_unbanned", admin.ID, userID, nil)

	return nil
}

// History returns a user's moderation log, newest first.
func (s *BanService) History(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	records, err := s.bans.ListByUser(ctx, userID, limit)
	if err != nil {
		s.logger.Error("failed to list ban records", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return records, nil
}
