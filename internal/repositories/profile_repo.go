package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/fablehq/accounts/internal/database"
	"github.com/fablehq/accounts/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const profileColumns = `id, display_name, email, password_hash, perks, active_perk, perks_raw, needs_perk_sync, avatar,
		is_banned, ban_reason, ban_end_at, ban_admin_id, ban_admin_name, created_at, updated_at`

type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{pool: db.Pool}
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanProfileRow handles nullable fields and populates a Profile from a database row
func scanProfileRow(scanner rowScanner) (*models.Profile, error) {
	var p models.Profile
	var passwordHash, perksRaw, avatar *string

	err := scanner.Scan(
		&p.ID, &p.DisplayName, &p.Email, &passwordHash,
		pq.Array(&p.Perks), &p.ActivePerk, &perksRaw, &p.NeedsPerkSync, &avatar,
		&p.IsBanned, &p.BanReason, &p.BanEndAt, &p.BanAdminID, &p.BanAdminName,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		p.PasswordHash = *passwordHash
	}
	if perksRaw != nil {
		p.PerksRaw = *perksRaw
	}
	if avatar != nil {
		p.Avatar = *avatar
	}

	return &p, nil
}

func scanProfileRows(rows pgx.Rows) ([]*models.Profile, error) {
	defer rows.Close()

	profiles := make([]*models.Profile, 0)

	for rows.Next() {
		p, err := scanProfileRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return profiles, nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	return scanProfileRow(r.pool.QueryRow(ctx, query, id))
}

func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE lower(email) = lower($1)`

	return scanProfileRow(r.pool.QueryRow(ctx, query, email))
}

func (r *ProfileRepository) GetByDisplayName(ctx context.Context, name string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE lower(display_name) = lower($1)`

	return scanProfileRow(r.pool.QueryRow(ctx, query, name))
}

func (r *ProfileRepository) List(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}

	return scanProfileRows(rows)
}

func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	p.ID = uuid.New().String()

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if len(p.Perks) == 0 {
		p.Perks = []string{models.PerkUser}
	}
	if p.ActivePerk == "" {
		p.ActivePerk = p.Perks[0]
	}

	query := `
		INSERT INTO profiles (id, display_name, email, password_hash, perks, active_perk, avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + profileColumns

	var passwordHash *string
	if p.PasswordHash != "" {
		passwordHash = &p.PasswordHash
	}

	return scanProfileRow(r.pool.QueryRow(ctx, query,
		p.ID, p.DisplayName, p.Email, passwordHash,
		pq.Array(p.Perks), p.ActivePerk, p.Avatar, p.CreatedAt, p.UpdatedAt,
	))
}

// UpdatePerks is the direct write path for privilege changes.
func (r *ProfileRepository) UpdatePerks(ctx context.Context, id string, perks []string, activePerk string) error {
	query := `UPDATE profiles SET perks = $1, active_perk = $2, updated_at = NOW() WHERE id = $3`

	result, err := r.pool.Exec(ctx, query, pq.Array(perks), activePerk, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CallAdminUpdatePerks invokes the privileged server-side procedure,
// used when row-level permissions are insufficient for a direct write.
// The procedure resolves the active perk itself.
func (r *ProfileRepository) CallAdminUpdatePerks(ctx context.Context, id string, perks []string) error {
	_, err := r.pool.Exec(ctx, `SELECT admin_update_perks($1, $2)`, id, pq.Array(perks))
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// WritePerkMirror is the last-resort write path: a serialized perk
// list plus a sync marker, picked up by the perk sync trigger.
func (r *ProfileRepository) WritePerkMirror(ctx context.Context, id string, raw string) error {
	query := `UPDATE profiles SET perks_raw = $1, needs_perk_sync = TRUE, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, raw, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *ProfileRepository) SetDisplayName(ctx context.Context, id, name string) error {
	return r.execOnProfile(ctx, `UPDATE profiles SET display_name = $1, updated_at = NOW() WHERE id = $2`, name, id)
}

func (r *ProfileRepository) SetAvatar(ctx context.Context, id, avatar string) error {
	return r.execOnProfile(ctx, `UPDATE profiles SET avatar = $1, updated_at = NOW() WHERE id = $2`, avatar, id)
}

func (r *ProfileRepository) SetActivePerk(ctx context.Context, id, perk string) error {
	return r.execOnProfile(ctx, `UPDATE profiles SET active_perk = $1, updated_at = NOW() WHERE id = $2`, perk, id)
}

func (r *ProfileRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	return r.execOnProfile(ctx, `UPDATE profiles SET password_hash = $1, updated_at = NOW() WHERE id = $2`, passwordHash, id)
}

// SetBan writes the live ban fields onto the profile. A nil endAt is a
// permanent ban.
func (r *ProfileRepository) SetBan(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error {
	query := `
		UPDATE profiles
		SET is_banned = TRUE, ban_reason = $1, ban_end_at = $2, ban_admin_id = $3, ban_admin_name = $4, updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.pool.Exec(ctx, query, reason, endAt, adminID, adminName, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearBan resets all ban fields on the profile.
func (r *ProfileRepository) ClearBan(ctx context.Context, id string) error {
	query := `
		UPDATE profiles
		SET is_banned = FALSE, ban_reason = NULL, ban_end_at = NULL, ban_admin_id = NULL, ban_admin_name = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearExpiredBans resets ban fields on every profile whose timed ban
// has lapsed. Used by the background sweeper.
func (r *ProfileRepository) ClearExpiredBans(ctx context.Context) (int64, error) {
	query := `
		UPDATE profiles
		SET is_banned = FALSE, ban_reason = NULL, ban_end_at = NULL, ban_admin_id = NULL, ban_admin_name = NULL, updated_at = NOW()
		WHERE is_banned = TRUE AND ban_end_at IS NOT NULL AND ban_end_at < NOW()
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func (r *ProfileRepository) CountTotal(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM profiles`)
}

func (r *ProfileRepository) CountBanned(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM profiles WHERE is_banned = TRUE`)
}

func (r *ProfileRepository) CountWithPerk(ctx context.Context, perk string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM profiles WHERE $1 = ANY(perks)`, perk)
}

func (r *ProfileRepository) CountNewSince(ctx context.Context, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM profiles WHERE created_at >= $1`, since)
}

func (r *ProfileRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return n, nil
}

func (r *ProfileRepository) execOnProfile(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
