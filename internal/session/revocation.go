package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList is a Redis-backed denylist of revoked token IDs.
// Entries expire with the token they revoke, so the list stays small
// without a cleanup job.
type RevocationList struct {
	rdb *redis.Client
}

func NewRevocationList(rdb *redis.Client) *RevocationList {
	return &RevocationList{rdb: rdb}
}

func (l *RevocationList) key(jti string) string {
	return "revoked:jti:" + jti
}

// Revoke denylists a token id until its natural expiry.
func (l *RevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired; nothing to deny.
		return nil
	}
	return l.rdb.Set(ctx, l.key(jti), "1", ttl).Err()
}

// IsRevoked reports whether a token id has been revoked.
func (l *RevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := l.rdb.Get(ctx, l.key(jti)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
