package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fablehq/accounts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListUsers_ClampsPagination(t *testing.T) {
	var gotLimit, gotOffset int
	profiles := &MockProfileRepository{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
			gotLimit = limit
			gotOffset = offset
			return []*models.Profile{}, nil
		},
	}

	svc := NewAdminService(profiles, nil, slog.Default())

	_, err := svc.ListUsers(context.Background(), 10000, -5)

	require.NoError(t, err)
	assert.Equal(t, 50, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestStats_AggregatesCounters(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))

	var newSince time.Time
	profiles := &MockProfileRepository{
		CountTotalFunc:  func(ctx context.Context) (int64, error) { return 120, nil },
		CountBannedFunc: func(ctx context.Context) (int64, error) { return 3, nil },
		CountWithPerkFunc: func(ctx context.Context, perk string) (int64, error) {
			switch perk {
			case models.PerkAdmin:
				return 2, nil
			case models.PerkSponsor:
				return 7, nil
			case models.PerkEarlyUser:
				return 40, nil
			}
			return 0, nil
		},
		CountNewSinceFunc: func(ctx context.Context, since time.Time) (int64, error) {
			newSince = since
			return 11, nil
		},
	}

	svc := NewAdminService(profiles, clock.Now, slog.Default())

	stats, err := svc.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.TotalUsers)
	assert.Equal(t, int64(3), stats.BannedUsers)
	assert.Equal(t, int64(2), stats.Admins)
	assert.Equal(t, int64(7), stats.Sponsors)
	assert.Equal(t, int64(40), stats.EarlyUsers)
	assert.Equal(t, int64(11), stats.NewThisWeek)
	assert.Equal(t, clock.Now().AddDate(0, 0, -7), newSince)
}
