package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/cache"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/notifier"
	pkgauth "github.com/fablehq/accounts/pkg/auth"
	"github.com/fablehq/accounts/pkg/logger"
)

// SessionProfileRepository is the profile surface the session
// controller reads and writes.
type SessionProfileRepository interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	GetByDisplayName(ctx context.Context, name string) (*models.Profile, error)
	Create(ctx context.Context, p *models.Profile) (*models.Profile, error)
	SetDisplayName(ctx context.Context, id, name string) error
	SetAvatar(ctx context.Context, id, avatar string) error
	SetActivePerk(ctx context.Context, id, perk string) error
}

// SessionSnapshotStore is the persisted snapshot surface, including
// teardown on logout.
type SessionSnapshotStore interface {
	Get(ctx context.Context, userID string) (*models.SessionUser, error)
	Save(ctx context.Context, u *models.SessionUser) error
	Delete(ctx context.Context, userID string) error
}

// BanChecker resolves live ban status without ever failing.
type BanChecker interface {
	CheckBan(ctx context.Context, userID string) *models.BanStatus
}

// TokenRevoker denylists token ids until their natural expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// SettingsProvider exposes the site settings singleton.
type SettingsProvider interface {
	Get(ctx context.Context) (*models.SiteSettings, error)
}

// SessionService owns the session lifecycle: registration, login,
// refresh, the optimistic profile edits, and logout. The database row
// is the source of truth; the persisted snapshot is a convenience that
// refresh reconciles against it, with one exception: a display-name
// edit younger than the override window beats the database value, so a
// user's own rename is never visually reverted by a stale read.
type SessionService struct {
	profiles   SessionProfileRepository
	snapshots  SessionSnapshotStore
	bans       BanChecker
	settings   SettingsProvider
	tokens     *auth.TokenManager
	revocation TokenRevoker
	cache      *cache.ProfileCache
	notifier   notifier.Notifier
	audit      *logger.AuditLogger
	window     time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewSessionService(
	profiles SessionProfileRepository,
	snapshots SessionSnapshotStore,
	bans BanChecker,
	settings SettingsProvider,
	tokens *auth.TokenManager,
	revocation TokenRevoker,
	profileCache *cache.ProfileCache,
	n notifier.Notifier,
	audit *logger.AuditLogger,
	nameOverrideWindow time.Duration,
	now func() time.Time,
	log *slog.Logger,
) *SessionService {
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		profiles:   profiles,
		snapshots:  snapshots,
		bans:       bans,
		settings:   settings,
		tokens:     tokens,
		revocation: revocation,
		cache:      profileCache,
		notifier:   n,
		audit:      audit,
		window:     nameOverrideWindow,
		now:        now,
		logger:     log,
	}
}

// Register creates a profile and opens a session. When the early-user
// promotion is running the account is created with the early_user perk
// already granted.
func (s *SessionService) Register(ctx context.Context, email, displayName, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, nil, models.ErrBadRequest
	}

	if _, err := s.profiles.GetByEmail(ctx, email); err == nil {
		return nil, nil, models.ErrConflict
	} else if err != models.ErrNotFound {
		s.logger.Error("email uniqueness check failed", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if err := s.checkDisplayNameFree(ctx, displayName, ""); err != nil {
		return nil, nil, err
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("password hashing failed", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	perks := []string{models.PerkUser}
	if settings, err := s.settings.Get(ctx); err == nil && settings.EarlyUserPromotion {
		perks = append(perks, models.PerkEarlyUser)
	} else if err != nil {
		s.logger.Warn("settings lookup failed during registration, skipping promotion check",
			slog.Any("error", err))
	}

	profile, err := s.profiles.Create(ctx, &models.Profile{
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Perks:        perks,
	})
	if err != nil {
		if err == models.ErrConflict {
			return nil, nil, models.ErrConflict
		}
		s.logger.Error("profile creation failed", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	s.audit.LogAuthAttempt("register", profile.Email, clientIP, true)

	return s.openSession(ctx, profile)
}

// Login authenticates by email and password. A banned account fails
// with a BannedError carrying the full ban status for the client.
func (s *SessionService) Login(ctx context.Context, email, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if err == models.ErrNotFound {
			s.audit.LogAuthAttempt("login", email, clientIP, false)
			return nil, nil, models.ErrUnauthorized
		}
		s.logger.Error("login lookup failed", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if err := pkgauth.VerifyPassword(profile.PasswordHash, password); err != nil {
		s.audit.LogAuthAttempt("login", email, clientIP, false)
		return nil, nil, models.ErrUnauthorized
	}

	if status := s.bans.CheckBan(ctx, profile.ID); status.Banned {
		s.audit.LogAuthAttempt("login", email, clientIP, false)
		return nil, nil, &models.BannedError{Status: status}
	}

	s.audit.LogAuthAttempt("login", email, clientIP, true)

	return s.openSession(ctx, profile)
}

// Refresh validates a refresh token, re-resolves the profile and ban
// status, and reconciles the session snapshot against the profile row.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*models.SessionUser, *models.TokenPair, error) {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil || claims.Type != "refresh" {
		return nil, nil, models.ErrUnauthorized
	}

	profile, err := s.getProfile(ctx, claims.UserID)
	if err != nil {
		if err == models.ErrNotFound {
			return nil, nil, models.ErrUnauthorized
		}
		return nil, nil, models.ErrInternalServer
	}

	if status := s.bans.CheckBan(ctx, profile.ID); status.Banned {
		if derr := s.snapshots.Delete(ctx, profile.ID); derr != nil {
			s.logger.Warn("failed to drop snapshot of banned user", slog.Any("error", derr))
		}
		return nil, nil, &models.BannedError{Status: status}
	}

	snapshot := s.reconcileSnapshot(ctx, profile)

	pair, err := s.issueTokens(profile)
	if err != nil {
		return nil, nil, models.ErrInternalServer
	}

	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist refreshed snapshot",
			slog.String("user_id", profile.ID),
			slog.Any("error", err))
	}

	return snapshot, pair, nil
}

// reconcileSnapshot merges the stored snapshot with the profile row.
// The row wins on every field except a display name edited inside the
// override window.
func (s *SessionService) reconcileSnapshot(ctx context.Context, profile *models.Profile) *models.SessionUser {
	fresh := snapshotFromProfile(profile)

	stored, err := s.snapshots.Get(ctx, profile.ID)
	if err != nil {
		if err != models.ErrNotFound {
			s.logger.Warn("failed to load stored snapshot, rebuilding from profile",
				slog.String("user_id", profile.ID),
				slog.Any("error", err))
		}
		return fresh
	}

	if stored.NameSetAt != nil && s.now().Sub(*stored.NameSetAt) < s.window {
		fresh.DisplayName = stored.DisplayName
		fresh.NameSetAt = stored.NameSetAt
	}

	return fresh
}

// Me returns the current session snapshot, rebuilding it from the
// profile row when the store has none.
func (s *SessionService) Me(ctx context.Context, userID string) (*models.SessionUser, error) {
	snapshot, err := s.snapshots.Get(ctx, userID)
	if err == nil {
		return snapshot, nil
	}
	if err != models.ErrNotFound {
		s.logger.Warn("snapshot load failed, falling back to profile",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	profile, err := s.getProfile(ctx, userID)
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}

	snapshot = snapshotFromProfile(profile)
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist rebuilt snapshot", slog.Any("error", err))
	}
	return snapshot, nil
}

// UpdateDisplayName renames the user. The snapshot is updated first and
// stamped with the edit time, so a refresh racing a replica lag still
// shows the new name; the row write follows and is authoritative after
// the override window lapses.
func (s *SessionService) UpdateDisplayName(ctx context.Context, userID, name string) (*models.SessionUser, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 40 {
		return nil, models.ErrBadRequest
	}

	if err := s.checkDisplayNameFree(ctx, name, userID); err != nil {
		return nil, err
	}

	snapshot, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	editedAt := s.now()
	snapshot.DisplayName = name
	snapshot.NameSetAt = &editedAt

	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist optimistic rename", slog.Any("error", err))
	}

	if err := s.profiles.SetDisplayName(ctx, userID, name); err != nil {
		s.logger.Error("display name write failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.cache.Invalidate(userID)
	s.emitSessionUpdated(ctx, userID)

	return snapshot, nil
}

// UpdateAvatar sets the avatar URL. No override window here: the write
// is synchronous and the snapshot follows the row.
func (s *SessionService) UpdateAvatar(ctx context.Context, userID, avatar string) (*models.SessionUser, error) {
	if err := s.profiles.SetAvatar(ctx, userID, avatar); err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrNotFound
		}
		s.logger.Error("avatar write failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	snapshot, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	snapshot.Avatar = avatar
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist avatar change to snapshot", slog.Any("error", err))
	}

	s.cache.Invalidate(userID)
	s.emitSessionUpdated(ctx, userID)

	return snapshot, nil
}

// SetActivePerk selects which held perk the user presents. Choosing a
// perk outside the held set is rejected.
func (s *SessionService) SetActivePerk(ctx context.Context, userID, perk string) (*models.SessionUser, error) {
	profile, err := s.getProfile(ctx, userID)
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}

	if !profile.HasPerk(perk) {
		return nil, models.ErrInvalidPerk
	}

	if err := s.profiles.SetActivePerk(ctx, userID, perk); err != nil {
		s.logger.Error("active perk write failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	snapshot, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	snapshot.ActivePerk = perk
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist active perk to snapshot", slog.Any("error", err))
	}

	s.cache.Invalidate(userID)
	s.emitSessionUpdated(ctx, userID)

	return snapshot, nil
}

// Logout revokes the presented access token and drops the snapshot.
// Both steps are best effort; logout never fails.
func (s *SessionService) Logout(ctx context.Context, claims *models.TokenClaims) {
	if claims == nil {
		return
	}

	if claims.ID != "" && claims.ExpiresAt != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if err := s.revocation.Revoke(ctx, claims.ID, ttl); err != nil {
			s.logger.Warn("failed to revoke token on logout",
				slog.String("user_id", claims.UserID),
				slog.Any("error", err))
		}
	}

	if err := s.snapshots.Delete(ctx, claims.UserID); err != nil {
		s.logger.Warn("failed to delete snapshot on logout",
			slog.String("user_id", claims.UserID),
			slog.Any("error", err))
	}
}

// ApplyProfile folds an externally updated profile into any live
// session snapshot. Called on cross-instance profile events so a
// perk grant or ban propagates without waiting for the next refresh.
func (s *SessionService) ApplyProfile(ctx context.Context, userID string) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if err != models.ErrNotFound {
			s.logger.Warn("failed to load profile for session sync",
				slog.String("user_id", userID),
				slog.Any("error", err))
		}
		return
	}

	s.cache.Set(profile)

	if _, err := s.snapshots.Get(ctx, userID); err != nil {
		// No live session to sync.
		return
	}

	snapshot := s.reconcileSnapshot(ctx, profile)
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to sync snapshot after profile event",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

func (s *SessionService) openSession(ctx context.Context, profile *models.Profile) (*models.SessionUser, *models.TokenPair, error) {
	pair, err := s.issueTokens(profile)
	if err != nil {
		return nil, nil, models.ErrInternalServer
	}

	snapshot := snapshotFromProfile(profile)
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist session snapshot",
			slog.String("user_id", profile.ID),
			slog.Any("error", err))
	}

	s.cache.Set(profile)
	s.emitSessionUpdated(ctx, profile.ID)

	return snapshot, pair, nil
}

func (s *SessionService) issueTokens(profile *models.Profile) (*models.TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(profile.ID, profile.Email)
	if err != nil {
		s.logger.Error("access token generation failed", slog.Any("error", err))
		return nil, err
	}

	refresh, err := s.tokens.GenerateRefreshToken(profile.ID, profile.Email)
	if err != nil {
		s.logger.Error("refresh token generation failed", slog.Any("error", err))
		return nil, err
	}

	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *SessionService) checkDisplayNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.profiles.GetByDisplayName(ctx, name)
	if err == nil {
		if existing.ID == selfID {
			return nil
		}
		return models.ErrDisplayNameTaken
	}
	if err != models.ErrNotFound {
		s.logger.Error("display name uniqueness check failed", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

func (s *SessionService) getProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if p, ok := s.cache.Get(userID); ok {
		return p, nil
	}

	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(p)
	return p, nil
}

func (s *SessionService) emitSessionUpdated(ctx context.Context, userID string) {
	if err := s.notifier.Emit(ctx, notifier.EventSessionUpdated, map[string]string{"user_id": userID}); err != nil {
		s.logger.Warn("failed to broadcast session update", slog.Any("error", err))
	}
}

func snapshotFromProfile(p *models.Profile) *models.SessionUser {
	return &models.SessionUser{
		UserID:      p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		Perks:       p.Perks,
		ActivePerk:  p.ActivePerk,
		CreatedAt:   p.CreatedAt,
	}
}
