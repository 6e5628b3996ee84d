package background

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockSweepProfiles struct {
	calls int
	err   error
}

func (m *mockSweepProfiles) ClearExpiredBans(ctx context.Context) (int64, error) {
	m.calls++
	return 2, m.err
}

type mockSweepBans struct {
	calls int
}

func (m *mockSweepBans) DeactivateExpired(ctx context.Context) (int64, error) {
	m.calls++
	return 2, nil
}

type mockSweepResets struct {
	calls int
}

func (m *mockSweepResets) DeleteExpired(ctx context.Context) (int64, error) {
	m.calls++
	return 0, nil
}

func TestBanSweeper_RunsAllSweeps(t *testing.T) {
	profiles := &mockSweepProfiles{}
	bans := &mockSweepBans{}
	resets := &mockSweepResets{}

	sweeper := NewBanSweeper(profiles, bans, resets, slog.Default(), time.Hour)
	sweeper.runSweep(context.Background())

	assert.Equal(t, 1, profiles.calls)
	assert.Equal(t, 1, bans.calls)
	assert.Equal(t, 1, resets.calls)
}

func TestBanSweeper_ContinuesPastFailures(t *testing.T) {
	profiles := &mockSweepProfiles{err: errors.New("db down")}
	bans := &mockSweepBans{}
	resets := &mockSweepResets{}

	sweeper := NewBanSweeper(profiles, bans, resets, slog.Default(), time.Hour)
	sweeper.runSweep(context.Background())

	assert.Equal(t, 1, bans.calls, "one failing sweep must not block the others")
	assert.Equal(t, 1, resets.calls)
}

func TestBanSweeper_StopEndsLoop(t *testing.T) {
	profiles := &mockSweepProfiles{}
	sweeper := NewBanSweeper(profiles, &mockSweepBans{}, &mockSweepResets{}, slog.Default(), time.Hour)

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	// The startup sweep runs before Stop can take effect.
	sweeper.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	assert.GreaterOrEqual(t, profiles.calls, 1)
}
