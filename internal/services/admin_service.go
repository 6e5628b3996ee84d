package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablehq/accounts/internal/models"
)

// AdminProfileRepository is the read surface of the admin dashboard.
type AdminProfileRepository interface {
	List(ctx context.Context, limit, offset int) ([]*models.Profile, error)
	CountTotal(ctx context.Context) (int64, error)
	CountBanned(ctx context.Context) (int64, error)
	CountWithPerk(ctx context.Context, perk string) (int64, error)
	CountNewSince(ctx context.Context, since time.Time) (int64, error)
}

// UserStats is the admin dashboard summary.
type UserStats struct {
	TotalUsers  int64 `json:"total_users"`
	BannedUsers int64 `json:"banned_users"`
	Admins      int64 `json:"admins"`
	Sponsors    int64 `json:"sponsors"`
	EarlyUsers  int64 `json:"early_users"`
	NewThisWeek int64 `json:"new_this_week"`
}

// AdminService backs the admin user listing and stats endpoints.
type AdminService struct {
	profiles AdminProfileRepository
	now      func() time.Time
	logger   *slog.Logger
}

func NewAdminService(profiles AdminProfileRepository, now func() time.Time, log *slog.Logger) *AdminService {
	if now == nil {
		now = time.Now
	}
	return &AdminService{profiles: profiles, now: now, logger: log}
}

// ListUsers returns a page of profiles, newest first.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	profiles, err := s.profiles.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("user listing failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return profiles, nil
}

// Stats aggregates the dashboard counters. Counts run sequentially;
// the dashboard is not latency sensitive.
func (s *AdminService) Stats(ctx context.Context) (*UserStats, error) {
	stats := &UserStats{}

	var err error
	if stats.TotalUsers, err = s.profiles.CountTotal(ctx); err != nil {
		return nil, s.statsError("total", err)
	}
	if stats.BannedUsers, err = s.profiles.CountBanned(ctx); err != nil {
		return nil, s.statsError("banned", err)
	}
	if stats.Admins, err = s.profiles.CountWithPerk(ctx, models.PerkAdmin); err != nil {
		return nil, s.statsError("admins", err)
	}
	if stats.Sponsors, err = s.profiles.CountWithPerk(ctx, models.PerkSponsor); err != nil {
		return nil, s.statsError("sponsors", err)
	}
	if stats.EarlyUsers, err = s.profiles.CountWithPerk(ctx, models.PerkEarlyUser); err != nil {
		return nil, s.statsError("early_users", err)
	}
	if stats.NewThisWeek, err = s.profiles.CountNewSince(ctx, s.now().AddDate(0, 0, -7)); err != nil {
		return nil, s.statsError("new_this_week", err)
	}

	return stats, nil
}

func (s *AdminService) statsError(counter string, err error) error {
	s.logger.Error("stats query failed", slog.String("counter", counter), slog.Any("error", err))
	return models.ErrInternalServer
}
