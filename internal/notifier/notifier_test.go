package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalNotifier_EmitDeliversToSubscribers(t *testing.T) {
	n := NewLocalNotifier(slog.Default())

	var got []string
	n.On(EventProfileUpdated, func(event string, payload []byte) {
		var p map[string]string
		require.NoError(t, json.Unmarshal(payload, &p))
		got = append(got, p["user_id"])
	})

	err := n.Emit(context.Background(), EventProfileUpdated, map[string]string{"user_id": "u1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got)
}

func TestLocalNotifier_NoDeliveryForOtherEvents(t *testing.T) {
	n := NewLocalNotifier(slog.Default())

	called := false
	n.On(EventSettingsUpdated, func(event string, payload []byte) {
		called = true
	})

	_ = n.Emit(context.Background(), EventProfileUpdated, nil)

	assert.False(t, called)
}

func TestLocalNotifier_Unsubscribe(t *testing.T) {
	n := NewLocalNotifier(slog.Default())

	calls := 0
	unsub := n.On(EventProfileUpdated, func(event string, payload []byte) {
		calls++
	})

	_ = n.Emit(context.Background(), EventProfileUpdated, nil)
	unsub()
	_ = n.Emit(context.Background(), EventProfileUpdated, nil)

	assert.Equal(t, 1, calls)
}

func TestLocalNotifier_MultipleSubscribers(t *testing.T) {
	n := NewLocalNotifier(slog.Default())

	calls := 0
	n.On(EventProfileBanned, func(event string, payload []byte) { calls++ })
	n.On(EventProfileBanned, func(event string, payload []byte) { calls++ })

	_ = n.Emit(context.Background(), EventProfileBanned, nil)

	assert.Equal(t, 2, calls)
}

func TestLocalNotifier_PanickingHandlerDoesNotBreakOthers(t *testing.T) {
	n := NewLocalNotifier(slog.Default())

	delivered := false
	n.On(EventProfileUpdated, func(event string, payload []byte) {
		panic("bad subscriber")
	})
	n.On(EventProfileUpdated, func(event string, payload []byte) {
		delivered = true
	})

	assert.NotPanics(t, func() {
		_ = n.Emit(context.Background(), EventProfileUpdated, nil)
	})
	assert.True(t, delivered)
}

func TestLocalNotifier_LateSubscriberMissesEarlierEmit(t *testing.T) {
	n := NewLocalNotifier(slog.Default())

	_ = n.Emit(context.Background(), EventProfileUpdated, nil)

	called := false
	n.On(EventProfileUpdated, func(event string, payload []byte) { called = true })

	assert.False(t, called, "delivery only reaches handlers registered before emit")
}
