package background

import (
	"context"
	"log/slog"
	"time"
)

// SweepProfileRepository clears lapsed bans from profile rows.
type SweepProfileRepository interface {
	ClearExpiredBans(ctx context.Context) (int64, error)
}

// SweepBanRepository deactivates lapsed rows in the moderation log.
type SweepBanRepository interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

// SweepResetRepository removes stale password reset tokens.
type SweepResetRepository interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// BanSweeper periodically scrubs expired bans and stale reset tokens.
// Ban checks already self-heal on read; the sweeper catches users who
// never come back, so admin counts stay honest.
type BanSweeper struct {
	profiles SweepProfileRepository
	bans     SweepBanRepository
	resets   SweepResetRepository
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewBanSweeper creates a new ban sweeper
func NewBanSweeper(
	profiles SweepProfileRepository,
	bans SweepBanRepository,
	resets SweepResetRepository,
	logger *slog.Logger,
	interval time.Duration,
) *BanSweeper {
	return &BanSweeper{
		profiles: profiles,
		bans:     bans,
		resets:   resets,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (bs *BanSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(bs.interval)
	defer ticker.Stop()

	// Run immediately on startup
	bs.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			bs.runSweep(ctx)
		case <-bs.stopCh:
			bs.logger.Info("ban sweeper stopped")
			return
		case <-ctx.Done():
			bs.logger.Info("ban sweeper context cancelled")
			return
		}
	}
}

func (bs *BanSweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cleared, err := bs.profiles.ClearExpiredBans(sweepCtx)
	if err != nil {
		bs.logger.Error("failed to clear expired bans", slog.Any("error", err))
	} else if cleared > 0 {
		bs.logger.Info("expired bans cleared", slog.Int64("profiles", cleared))
	}

	deactivated, err := bs.bans.DeactivateExpired(sweepCtx)
	if err != nil {
		bs.logger.Error("failed to deactivate expired ban records", slog.Any("error", err))
	} else if deactivated > 0 {
		bs.logger.Info("expired ban records deactivated", slog.Int64("records", deactivated))
	}

	deleted, err := bs.resets.DeleteExpired(sweepCtx)
	if err != nil {
		bs.logger.Error("failed to delete stale reset tokens", slog.Any("error", err))
	} else if deleted > 0 {
		bs.logger.Info("stale reset tokens deleted", slog.Int64("tokens", deleted))
	}
}

// Stop signals the sweeper to stop
func (bs *BanSweeper) Stop() {
	close(bs.stopCh)
}
