package services

import (
	"context"
	"encoding/json"
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

func newPrivilegeService(profiles PrivilegeProfileRepository, snapshots SnapshotStore) *PrivilegeService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	return NewPrivilegeService(
		profiles,
		snapshots,
		cache.NewProfileCache(time.Minute, nil),
		notifier.NewLocalNotifier(slog.Default()),
		testAudit(),
		slog.Default(),
	)
}

func TestUpdatePerks_DirectWrite(t *testing.T) {
	state := NewTestProfile("u1", "user@example.com", "reader")

	var wrotePerks []string
	var wroteActive string

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			wrotePerks = perks
			wroteActive = activePerk
			state.Perks = perks
			state.ActivePerk = activePerk
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	updated, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser, models.PerkSponsor})

	require.NoError(t, err)
	assert.Equal(t, []string{models.PerkUser, models.PerkSponsor}, wrotePerks)
	assert.Equal(t, models.PerkUser, wroteActive)
	assert.Equal(t, []string{models.PerkUser, models.PerkSponsor}, updated.Perks)
}

func TestUpdatePerks_BasePerkForcedIn(t *testing.T) {
	state := NewTestProfile("u1", "user@example.com", "reader")

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			state.Perks = perks
			state.ActivePerk = activePerk
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	// A full revocation still leaves the base perk.
	updated, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{})

	require.NoError(t, err)
	assert.Equal(t, []string{models.PerkUser}, updated.Perks)
	assert.Equal(t, models.PerkUser, updated.ActivePerk)
}

func TestUpdatePerks_UnknownPerkRejected(t *testing.T) {
	svc := newPrivilegeService(&MockProfileRepository{}, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	_, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{"galactic_overlord"})

	assert.ErrorIs(t, err, models.ErrInvalidPerk)
}

func TestUpdatePerks_FallsBackToProcedure(t *testing.T) {
	state := NewTestAdminProfile("u1", "user@example.com", "reader")

	directCalls := 0
	procedureCalls := 0
	mirrorCalls := 0

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			directCalls++
			return errors.New("permission denied for table profiles")
		},
		CallAdminUpdatePerksFunc: func(ctx context.Context, id string, perks []string) error {
			procedureCalls++
			state.Perks = perks
			state.ActivePerk = models.ResolveActivePerk(state.ActivePerk, perks)
			return nil
		},
		WritePerkMirrorFunc: func(ctx context.Context, id string, raw string) error {
			mirrorCalls++
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	updated, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser})

	require.NoError(t, err)
	assert.Equal(t, 1, directCalls)
	assert.Equal(t, 1, procedureCalls)
	assert.Equal(t, 0, mirrorCalls, "mirror must not run when the procedure succeeds")
	assert.Equal(t, []string{models.PerkUser}, updated.Perks)
}

func TestUpdatePerks_MirrorIsLastResort(t *testing.T) {
	state := NewTestProfile("u1", "user@example.com", "reader")

	var mirrorRaw string

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			return errors.New("permission denied")
		},
		CallAdminUpdatePerksFunc: func(ctx context.Context, id string, perks []string) error {
			return errors.New("function admin_update_perks does not exist")
		},
		WritePerkMirrorFunc: func(ctx context.Context, id string, raw string) error {
			mirrorRaw = raw
			state.PerksRaw = raw
			state.NeedsPerkSync = true
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	_, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser, models.PerkEarlyUser})

	require.NoError(t, err)

	var mirrored []string
	require.NoError(t, json.Unmarshal([]byte(mirrorRaw), &mirrored))
	assert.Equal(t, []string{models.PerkUser, models.PerkEarlyUser}, mirrored)
}

// Every strategy is tried exactly once and the final strategy's failure
// is the operation's failure.
func TestUpdatePerks_CascadeTerminates(t *testing.T) {
	directCalls := 0
	procedureCalls := 0
	mirrorCalls := 0

	errMirror := errors.New("disk full")

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			directCalls++
			return errors.New("write failed")
		},
		CallAdminUpdatePerksFunc: func(ctx context.Context, id string, perks []string) error {
			procedureCalls++
			return errors.New("write failed")
		},
		WritePerkMirrorFunc: func(ctx context.Context, id string, raw string) error {
			mirrorCalls++
			return errMirror
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	_, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkSponsor})

	assert.ErrorIs(t, err, errMirror)
	assert.Equal(t, 1, directCalls)
	assert.Equal(t, 1, procedureCalls)
	assert.Equal(t, 1, mirrorCalls)
}

// A write that took effect must propagate even when the read-back
// fails; the locally computed state stands in for the stored one.
func TestUpdatePerks_ReadBackFailureStillPropagates(t *testing.T) {
	reads := 0

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			reads++
			if reads > 1 {
				return nil, errors.New("connection reset")
			}
			return NewTestProfile(id, "user@example.com", "reader"), nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			return nil
		},
	}

	snapshots := NewMemorySnapshotStore()
	require.NoError(t, snapshots.Save(context.Background(), &models.SessionUser{
		UserID:     "u1",
		Perks:      []string{models.PerkUser},
		ActivePerk: models.PerkUser,
	}))

	events := notifier.NewLocalNotifier(slog.Default())
	broadcasts := 0
	events.On(notifier.EventProfileUpdated, func(event string, payload []byte) {
		broadcasts++
	})

	svc := NewPrivilegeService(
		profiles,
		snapshots,
		cache.NewProfileCache(time.Minute, nil),
		events,
		testAudit(),
		slog.Default(),
	)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	updated, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser, models.PerkSponsor})

	require.NoError(t, err)
	assert.Equal(t, []string{models.PerkUser, models.PerkSponsor}, updated.Perks)
	assert.Equal(t, 1, broadcasts)

	snapshot, err := snapshots.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{models.PerkUser, models.PerkSponsor}, snapshot.Perks)
}

// Strategy 2 and 3 resolve the final state server-side, so when the
// read-back disagrees with the local computation the stored state wins
// and the operation still succeeds.
func TestUpdatePerks_StoredStateWinsOnReadBack(t *testing.T) {
	reads := 0

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			reads++
			p := NewTestProfile(id, "user@example.com", "reader")
			if reads > 1 {
				p.Perks = []string{models.PerkUser, models.PerkEarlyUser}
				p.ActivePerk = models.PerkEarlyUser
			}
			return p, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	updated, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser, models.PerkSponsor})

	require.NoError(t, err)
	assert.Equal(t, []string{models.PerkUser, models.PerkEarlyUser}, updated.Perks)
	assert.Equal(t, models.PerkEarlyUser, updated.ActivePerk)
}

func TestUpdatePerks_ActivePerkResetWhenRevoked(t *testing.T) {
	state := NewTestAdminProfile("u1", "user@example.com", "reader")
	state.ActivePerk = models.PerkAdmin

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			state.Perks = perks
			state.ActivePerk = activePerk
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	updated, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser})

	require.NoError(t, err)
	assert.Equal(t, models.PerkUser, updated.ActivePerk, "revoked active perk must fall back")
}

func TestUpdatePerks_SessionSnapshotFollows(t *testing.T) {
	state := NewTestProfile("u1", "user@example.com", "reader")

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			state.Perks = perks
			state.ActivePerk = activePerk
			return nil
		},
	}

	snapshots := NewMemorySnapshotStore()
	require.NoError(t, snapshots.Save(context.Background(), &models.SessionUser{
		UserID:     "u1",
		Perks:      []string{models.PerkUser},
		ActivePerk: models.PerkUser,
	}))

	svc := newPrivilegeService(profiles, snapshots)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")

	_, err := svc.UpdatePerks(context.Background(), admin, "u1", []string{models.PerkUser, models.PerkAdmin})
	require.NoError(t, err)

	snapshot, err := snapshots.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{models.PerkUser, models.PerkAdmin}, snapshot.Perks)
}

// Grant the admin perk, then revoke it; the profile must pass through
// admin and land back on the plain user set with a consistent active
// perk at each step.
func TestGrantThenRevokeAdmin(t *testing.T) {
	state := NewTestProfile("u1", "user@example.com", "reader")

	profiles := &MockProfileRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			copied := *state
			return &copied, nil
		},
		UpdatePerksFunc: func(ctx context.Context, id string, perks []string, activePerk string) error {
			state.Perks = perks
			state.ActivePerk = activePerk
			return nil
		},
	}

	svc := newPrivilegeService(profiles, nil)
	admin := NewTestAdminProfile("a1", "mod@example.com", "Moderator")
	ctx := context.Background()

	granted, err := svc.UpdatePerks(ctx, admin, "u1", []string{models.PerkUser, models.PerkAdmin})
	require.NoError(t, err)
	assert.True(t, granted.IsAdmin())

	revoked, err := svc.UpdatePerks(ctx, admin, "u1", []string{models.PerkUser})
	require.NoError(t, err)
	assert.False(t, revoked.IsAdmin())
	assert.Equal(t, []string{models.PerkUser}, revoked.Perks)
	assert.Equal(t, models.PerkUser, revoked.ActivePerk)
}
