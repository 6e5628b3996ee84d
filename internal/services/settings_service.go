package services

import (
	"context"
	"log/slog"

	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/notifier"
	"github.com/fablehq/accounts/pkg/logger"
)

// SettingsRepository is the persistence surface for the site settings
// singleton.
type SettingsRepository interface {
	Get(ctx context.Context) (*models.SiteSettings, error)
	Create(ctx context.Context) (*models.SiteSettings, error)
	SetEarlyUserPromotion(ctx context.Context, enabled bool) error
}

// SettingsService serves the site settings singleton, bootstrapping the
// row with defaults the first time anything reads it.
type SettingsService struct {
	repo     SettingsRepository
	notifier notifier.Notifier
	audit    *logger.AuditLogger
	logger   *slog.Logger
}

func NewSettingsService(repo SettingsRepository, n notifier.Notifier, audit *logger.AuditLogger, log *slog.Logger) *SettingsService {
	return &SettingsService{repo: repo, notifier: n, audit: audit, logger: log}
}

// Get returns the settings row, creating it with defaults when absent.
func (s *SettingsService) Get(ctx context.Context) (*models.SiteSettings, error) {
	settings, err := s.repo.Get(ctx)
	if err == nil {
		return settings, nil
	}
	if err != models.ErrNotFound {
		s.logger.Error("settings read failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	settings, err = s.repo.Create(ctx)
	if err != nil {
		s.logger.Error("settings bootstrap failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("site settings bootstrapped with defaults")
	return settings, nil
}

// SetEarlyUserPromotion toggles whether new registrations receive the
// early_user perk.
func (s *SettingsService) SetEarlyUserPromotion(ctx context.Context, admin *models.Profile, enabled bool) (*models.SiteSettings, error) {
	// Bootstrap first so the toggle never hits a missing row.
	if _, err := s.Get(ctx); err != nil {
		return nil, err
	}

	if err := s.repo.SetEarlyUserPromotion(ctx, enabled); err != nil {
		s.logger.Error("settings write failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.notifier.Emit(ctx, notifier.EventSettingsUpdated, map[string]bool{"early_user_promotion": enabled}); err != nil {
		s.logger.Warn("failed to broadcast settings change", slog.Any("error", err))
	}

	s.audit.LogModerationAction("settings_updated", admin.ID, "", map[string]any{
		"early_user_promotion": enabled,
	})

	return s.Get(ctx)
}
