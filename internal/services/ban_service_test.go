package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fablehq/accounts/internal/cache"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBanService(profiles BanProfileRepository, bans BanRecordRepository, clock *fakeClock) *BanService {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return NewBanService(
		profiles,
		bans,
		cache.NewProfileCache(time.Minute, now),
		notifier.NewLocalNotifier(slog.Default()),
		testAudit(),
		func(email string) bool { return email == "owner@fable.blog" },
		now,
		slog.Default(),
	)
}

func TestCheckBan_NotBanned(t *testing.T) {
	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
	}

	svc := newBanService(profiles, &MockBanRecordRepository{}, nil)
	status := svc.CheckBan(context.Background(), "u1")

	assert.False(t, status.Banned)
}

func TestCheckBan_FailsOpenOnStoreError(t *testing.T) {
	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := newBanService(profiles, &MockBanRecordRepository{}, nil)
	status := svc.CheckBan(context.Background(), "u1")

	assert.False(t, status.Banned, "store outage must not lock out the user")
}

func TestCheckBan_ActiveTimedBan(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	endAt := clock.Now().Add(2 * time.Hour)

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestBannedProfile(id, "user@example.com", "reader", "spam", &endAt), nil
		},
	}
	bans := &MockBanRecordRepository{
		LatestActiveFunc: func(ctx context.Context, userID string) (*models.BanRecord, error) {
			return &models.BanRecord{UserID: userID, BanType: models.BanTypeDay, Reason: "spam"}, nil
		},
	}

	svc := newBanService(profiles, bans, clock)
	status := svc.CheckBan(context.Background(), "u1")

	require.True(t, status.Banned)
	assert.False(t, status.Permanent)
	assert.Equal(t, "spam", status.Reason)
	assert.Equal(t, models.BanTypeDay, status.BanType)
	require.NotNil(t, status.EndAt)
	assert.Equal(t, endAt, *status.EndAt)
}

func TestCheckBan_PermanentBan(t *testing.T) {
	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestBannedProfile(id, "user@example.com", "reader", "abuse", nil), nil
		},
	}

	svc := newBanService(profiles, &MockBanRecordRepository{}, nil)
	status := svc.CheckBan(context.Background(), "u1")

	require.True(t, status.Banned)
	assert.True(t, status.Permanent)
	assert.Nil(t, status.EndAt)
}

func TestCheckBan_ExpiredBanClearedOnce(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	endAt := clock.Now().Add(-time.Minute)

	banned := true
	clearCalls := 0
	deactivateCalls := 0

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			if banned {
				return NewTestBannedProfile(id, "user@example.com", "reader", "spam", &endAt), nil
			}
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		ClearBanFunc: func(ctx context.Context, id string) error {
			clearCalls++
			banned = false
			return nil
		},
	}
	bans := &MockBanRecordRepository{
		DeactivateFunc: func(ctx context.Context, userID string) error {
			deactivateCalls++
			return nil
		},
	}

	svc := newBanService(profiles, bans, clock)

	status := svc.CheckBan(context.Background(), "u1")
	assert.False(t, status.Banned)

	// Second check sees the cleared profile and must not write again.
	status = svc.CheckBan(context.Background(), "u1")
	assert.False(t, status.Banned)

	assert.Equal(t, 1, clearCalls)
	assert.Equal(t, 1, deactivateCalls)
}

func TestCheckBan_EnrichmentFailureKeepsProfileAnswer(t *testing.T) {
	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestBannedProfile(id, "user@example.com", "reader", "abuse", nil), nil
		},
	}
	bans := &MockBanRecordRepository{
		LatestActiveFunc: func(ctx context.Context, userID string) (*models.BanRecord, error) {
			return nil, errors.New("log table unavailable")
		},
	}

	svc := newBanService(profiles, bans, nil)
	status := svc.CheckBan(context.Background(), "u1")

	require.True(t, status.Banned)
	assert.Equal(t, "abuse", status.Reason)
	assert.Empty(t, status.BanType)
}

func TestBan_WritesProfileAndRecord(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	var gotEndAt *time.Time
	var gotRecord *models.BanRecord

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		SetBanFunc: func(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error {
			gotEndAt = endAt
			return nil
		},
	}
	bans := &MockBanRecordRepository{
		CreateFunc: func(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, error) {
			gotRecord = rec
			return rec, nil
		},
	}

	svc := newBanService(profiles, bans, clock)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	err := svc.Ban(context.Background(), admin, "u1", "spam", 24*time.Hour)

	require.NoError(t, err)
	require.NotNil(t, gotEndAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), *gotEndAt)
	require.NotNil(t, gotRecord)
	assert.Equal(t, models.BanTypeDay, gotRecord.BanType)
	assert.Equal(t, "a1", gotRecord.AdminID)
}

func TestBan_ZeroDurationIsPermanent(t *testing.T) {
	var gotEndAt *time.Time
	endAtSet := false

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		SetBanFunc: func(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error {
			gotEndAt = endAt
			endAtSet = true
			return nil
		},
	}

	svc := newBanService(profiles, &MockBanRecordRepository{}, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	require.NoError(t, svc.Ban(context.Background(), admin, "u1", "abuse", 0))
	assert.True(t, endAtSet)
	assert.Nil(t, gotEndAt)
}

func TestBan_SuperAdminProtected(t *testing.T) {
	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestProfile(id, "owner@fable.blog", "Owner"), nil
		},
	}

	svc := newBanService(profiles, &MockBanRecordRepository{}, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	err := svc.Ban(context.Background(), admin, "u1", "power grab", 0)

	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestBan_RecordFailureDoesNotUndoBan(t *testing.T) {
	banWritten := false

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		SetBanFunc: func(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error {
			banWritten = true
			return nil
		},
	}
	bans := &MockBanRecordRepository{
		CreateFunc: func(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, error) {
			return nil, errors.New("log table unavailable")
		},
	}

	svc := newBanService(profiles, bans, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	err := svc.Ban(context.Background(), admin, "u1", "spam", time.Hour)

	assert.NoError(t, err)
	assert.True(t, banWritten)
}

func TestUnban_ClearsProfileAndRecord(t *testing.T) {
	cleared := false
	deactivated := false

	profiles := &MockProfileRepository{
		ClearBanFunc: func(ctx context.Context, id string) error {
			cleared = true
			return nil
		},
	}
	bans := &MockBanRecordRepository{
		DeactivateFunc: func(ctx context.Context, userID string) error {
			deactivated = true
			return nil
		},
	}

	svc := newBanService(profiles, bans, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	require.NoError(t, svc.Unban(context.Background(), admin, "u1"))
	assert.True(t, cleared)
	assert.True(t, deactivated)
}

// Ban a user, let the ban lapse, verify the next status check reports
// not banned and scrubs the stored state.
func TestBanThenAutoExpire(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	var storedEndAt *time.Time
	banned := false

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			if banned {
				return NewTestBannedProfile(id, "user@example.com", "reader", "spam", storedEndAt), nil
			}
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		SetBanFunc: func(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error {
			banned = true
			storedEndAt = endAt
			return nil
		},
		ClearBanFunc: func(ctx context.Context, id string) error {
			banned = false
			storedEndAt = nil
			return nil
		},
	}

	svc := newBanService(profiles, &MockBanRecordRepository{}, clock)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	require.NoError(t, svc.Ban(context.Background(), admin, "u1", "spam", time.Hour))

	status := svc.CheckBan(context.Background(), "u1")
	require.True(t, status.Banned)

	clock.Advance(time.Hour + time.Minute)

	status = svc.CheckBan(context.Background(), "u1")
	assert.False(t, status.Banned)
	assert.False(t, banned, "expired ban must be scrubbed from the store")
}
