package repositories

import (
	"context"

	"github.com/fablehq/accounts/internal/database"
	"github.com/fablehq/accounts/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsRepository manages the singleton site_settings row.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{pool: db.Pool}
}

// Get returns the settings row, or models.ErrNotFound when it has not
// been bootstrapped yet.
func (r *SettingsRepository) Get(ctx context.Context) (*models.SiteSettings, error) {
	var s models.SiteSettings

	err := r.pool.QueryRow(ctx,
		`SELECT early_user_promotion, created_at, updated_at FROM site_settings WHERE id = 1`,
	).Scan(&s.EarlyUserPromotion, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

// Create bootstraps the settings row with defaults. Safe to race: the
// insert is a no-op when the row already exists.
func (r *SettingsRepository) Create(ctx context.Context) (*models.SiteSettings, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO site_settings (id, early_user_promotion, created_at, updated_at)
		VALUES (1, FALSE, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return r.Get(ctx)
}

func (r *SettingsRepository) SetEarlyUserPromotion(ctx context.Context, enabled bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE site_settings SET early_user_promotion = $1, updated_at = NOW() WHERE id = 1`,
		enabled,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
