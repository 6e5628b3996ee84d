package repositories

import (
	"context"
	"time"

	"github.com/fablehq/accounts/internal/database"
	"github.com/fablehq/accounts/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository stores one-time password reset tokens,
// hashed at rest.
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

func (r *PasswordResetRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_resets (user_id, token_hash, expires_at, used, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
	`, userID, tokenHash, expiresAt)
	return database.MapPostgresError(err)
}

// Consume marks an unexpired, unused token as used and returns its
// user id. Returns ErrResetTokenUsed when no such token exists; the
// single UPDATE makes redemption atomic.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string) (string, error) {
	var userID string

	err := r.pool.QueryRow(ctx, `
		UPDATE password_resets
		SET used = TRUE
		WHERE token_hash = $1 AND used = FALSE AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrNotFound {
			return "", models.ErrResetTokenUsed
		}
		return "", database.MapPostgresError(err)
	}

	return userID, nil
}

// DeleteExpired removes stale reset tokens. Used by the background
// sweeper.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM password_resets WHERE expires_at < NOW() OR used = TRUE`,
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
