package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fablehq/accounts/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedis connects to the Redis instance backing the session store,
// the change notifier and the token denylist.
func NewRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr))

	return rdb, nil
}
