package notifier

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope is the wire format published on the Redis channel. Origin
// identifies the emitting instance so it can skip its own messages on
// the subscription path; local delivery already happened synchronously
// at emit time.
type envelope struct {
	Origin  string          `json:"origin"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisNotifier extends LocalNotifier with cross-instance broadcast
// over a Redis pub/sub channel. Same-process subscribers are delivered
// synthetically on emit, because the originating instance filters out
// its own publications.
type RedisNotifier struct {
	local   *LocalNotifier
	rdb     *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, channel string, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{
		local:   NewLocalNotifier(logger),
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  logger,
	}
}

// Emit delivers to same-process subscribers first, then publishes for
// other instances. A publish failure is logged, not returned: local
// consistency was already achieved and cross-instance delivery is best
// effort.
func (n *RedisNotifier) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	n.local.dispatch(event, data)

	env, err := json.Marshal(envelope{Origin: n.origin, Event: event, Payload: data})
	if err != nil {
		return err
	}

	if err := n.rdb.Publish(ctx, n.channel, env).Err(); err != nil {
		n.logger.Warn("failed to publish notification",
			slog.String("event", event),
			slog.Any("error", err))
	}

	return nil
}

func (n *RedisNotifier) On(event string, h Handler) func() {
	return n.local.On(event, h)
}

// Listen subscribes to the broadcast channel and dispatches foreign
// messages to local handlers until the context is cancelled. Run it in
// its own goroutine.
func (n *RedisNotifier) Listen(ctx context.Context) {
	sub := n.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notifier listener stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				n.logger.Warn("dropping malformed notification", slog.Any("error", err))
				continue
			}
			if env.Origin == n.origin {
				continue
			}

			n.local.dispatch(env.Event, env.Payload)
		}
	}
}
