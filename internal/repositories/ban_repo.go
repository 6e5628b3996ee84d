package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/fablehq/accounts/internal/database"
	"github.com/fablehq/accounts/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const banColumns = `id, user_id, admin_id, admin_name, reason, created_at, end_at, is_active, ban_type`

type BanRepository struct {
	db *database.DB
}

func NewBanRepository(db *database.DB) *BanRepository {
	return &BanRepository{db: db}
}

func scanBanRow(scanner rowScanner) (*models.BanRecord, error) {
	var rec models.BanRecord

	err := scanner.Scan(
		&rec.ID, &rec.UserID, &rec.AdminID, &rec.AdminName, &rec.Reason,
		&rec.CreatedAt, &rec.EndAt, &rec.IsActive, &rec.BanType,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rec, nil
}

// Create appends a ban record, deactivating any previously active
// record for the same user first so at most one row per user is
// active. Both steps run in one transaction.
func (r *BanRepository) Create(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now()
	rec.IsActive = true

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE user_bans SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`,
			rec.UserID,
		); err != nil {
			return database.MapPostgresError(err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO user_bans (id, user_id, admin_id, admin_name, reason, created_at, end_at, is_active, ban_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			rec.ID, rec.UserID, rec.AdminID, rec.AdminName, rec.Reason,
			rec.CreatedAt, rec.EndAt, rec.IsActive, rec.BanType,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ban record: %w", err)
	}

	return rec, nil
}

// LatestActive returns the most recent active ban record for a user.
func (r *BanRepository) LatestActive(ctx context.Context, userID string) (*models.BanRecord, error) {
	query := `
		SELECT ` + banColumns + ` FROM user_bans
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanBanRow(r.db.Pool.QueryRow(ctx, query, userID))
}

// Deactivate flips any active ban records for the user to inactive.
func (r *BanRepository) Deactivate(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE user_bans SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`,
		userID,
	)
	return database.MapPostgresError(err)
}

// DeactivateExpired flips every active timed ban whose end has passed.
// Used by the background sweeper.
func (r *BanRepository) DeactivateExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE user_bans SET is_active = FALSE WHERE is_active = TRUE AND end_at IS NOT NULL AND end_at < NOW()`,
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ListByUser returns a user's ban history, newest first.
func (r *BanRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error) {
	query := `
		SELECT ` + banColumns + ` FROM user_bans
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ban records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.BanRecord, 0)
	for rows.Next() {
		rec, err := scanBanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ban record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
