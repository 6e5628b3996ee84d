package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fablehq/accounts/internal/models"
	"github.com/redis/go-redis/v9"
)

// Store persists SessionUser snapshots in Redis so a snapshot survives
// process restarts and is shared across instances. It is the
// server-side equivalent of a client's persisted session key.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) key(userID string) string {
	return "session:user:" + userID
}

// Save writes the snapshot, resetting its TTL.
func (s *Store) Save(ctx context.Context, u *models.SessionUser) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to serialize session snapshot: %w", err)
	}

	if err := s.rdb.Set(ctx, s.key(u.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist session snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot for a user, or models.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*models.SessionUser, error) {
	data, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var u models.SessionUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &u, nil
}

// Delete removes the snapshot, ending the session on this layer.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, s.key(userID)).Err()
}
