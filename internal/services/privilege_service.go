package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fablehq/accounts/internal/cache"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/notifier"
	"github.com/fablehq/accounts/pkg/logger"
)

// PrivilegeProfileRepository is the write surface of the perk
// reconciler. The three write methods are ordered fallbacks, not
// alternatives: UpdatePerks is the plain path, CallAdminUpdatePerks
// goes through the privileged procedure, WritePerkMirror leaves a
// serialized copy for the perk sync trigger.
type PrivilegeProfileRepository interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	UpdatePerks(ctx context.Context, id string, perks []string, activePerk string) error
	CallAdminUpdatePerks(ctx context.Context, id string, perks []string) error
	WritePerkMirror(ctx context.Context, id string, raw string) error
}

// SnapshotStore is the session snapshot surface the reconciler needs
// to keep a live session consistent with a perk change.
type SnapshotStore interface {
	Get(ctx context.Context, userID string) (*models.SessionUser, error)
	Save(ctx context.Context, u *models.SessionUser) error
}

// PrivilegeService reconciles a user's perk set against an admin's
// requested change and propagates the result to the cache, the session
// snapshot and other instances.
type PrivilegeService struct {
	profiles PrivilegeProfileRepository
	sessions SnapshotStore
	cache    *cache.ProfileCache
	notifier notifier.Notifier
	audit    *logger.AuditLogger
	logger   *slog.Logger
}

func NewPrivilegeService(
	profiles PrivilegeProfileRepository,
	sessions SnapshotStore,
	profileCache *cache.ProfileCache,
	n notifier.Notifier,
	audit *logger.AuditLogger,
	log *slog.Logger,
) *PrivilegeService {
	return &PrivilegeService{
		profiles: profiles,
		sessions: sessions,
		cache:    profileCache,
		notifier: n,
		audit:    audit,
		logger:   log,
	}
}

// UpdatePerks sets a user's perk list to the requested set. The input
// is normalized first: unknown perks are rejected, duplicates dropped
// and the base perk forced in. The write cascades through three
// strategies; only when the last one fails does the operation fail.
func (s *PrivilegeService) UpdatePerks(ctx context.Context, admin *models.Profile, userID string, requested []string) (*models.Profile, error) {
	for _, perk := range requested {
		if !models.IsKnownPerk(perk) {
			return nil, models.ErrInvalidPerk
		}
	}

	current, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load profile for perk update",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	perks := models.NormalizePerks(requested)
	activePerk := models.ResolveActivePerk(current.ActivePerk, perks)

	if err := s.writePerks(ctx, userID, perks, activePerk); err != nil {
		return nil, err
	}

	// The write took effect; from here on nothing can fail the call.
	// Read back rather than trust our own computation: strategy 2 and
	// 3 resolve the final state server-side. A failed read falls back
	// to the locally computed values so propagation still happens.
	updated, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("perk write succeeded but verification read failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		updated = current
		updated.Perks = perks
		updated.ActivePerk = activePerk
	} else if !models.PerksEqual(updated.Perks, perks) || updated.ActivePerk != activePerk {
		s.logger.Warn("stored perks differ from the reconciled set",
			slog.String("user_id", userID),
			slog.Any("requested_perks", perks),
			slog.Any("stored_perks", updated.Perks),
			slog.String("requested_active", activePerk),
			slog.String("stored_active", updated.ActivePerk))
	}

	s.propagate(ctx, updated)

	s.audit.LogModerationAction("perks_updated", admin.ID, userID, map[string]any{
		"perks":       updated.Perks,
		"active_perk": updated.ActivePerk,
	})

	return updated, nil
}

// writePerks runs the three-strategy cascade. Each fallback is tried
// at most once and the final strategy's error is the operation's error.
func (s *PrivilegeService) writePerks(ctx context.Context, userID string, perks []string, activePerk string) error {
	err := s.profiles.UpdatePerks(ctx, userID, perks, activePerk)
	if err == nil {
		return nil
	}
	s.logger.Warn("direct perk write failed, trying privileged procedure",
		slog.String("user_id", userID),
		slog.Any("error", err))

	err = s.profiles.CallAdminUpdatePerks(ctx, userID, perks)
	if err == nil {
		return nil
	}
	s.logger.Warn("privileged perk procedure failed, writing perk mirror",
		slog.String("user_id", userID),
		slog.Any("error", err))

	raw, merr := json.Marshal(perks)
	if merr != nil {
		s.logger.Error("failed to serialize perks for mirror write", slog.Any("error", merr))
		return fmt.Errorf("serialize perk mirror: %w", merr)
	}

	if err := s.profiles.WritePerkMirror(ctx, userID, string(raw)); err != nil {
		s.logger.Error("all perk write strategies failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("perk mirror write: %w", err)
	}
	return nil
}

// propagate pushes the updated profile into the cache, patches any live
// session snapshot and broadcasts the change. All of it is best effort;
// the database already holds the truth.
func (s *PrivilegeService) propagate(ctx context.Context, p *models.Profile) {
	s.cache.Set(p)

	snapshot, err := s.sessions.Get(ctx, p.ID)
	if err == nil {
		snapshot.Perks = p.Perks
		snapshot.ActivePerk = p.ActivePerk
		if err := s.sessions.Save(ctx, snapshot); err != nil {
			s.logger.Warn("failed to update session snapshot after perk change",
				slog.String("user_id", p.ID),
				slog.Any("error", err))
		}
	} else if err != models.ErrNotFound {
		s.logger.Warn("failed to load session snapshot after perk change",
			slog.String("user_id", p.ID),
			slog.Any("error", err))
	}

	if err := s.notifier.Emit(ctx, notifier.EventProfileUpdated, map[string]string{"user_id": p.ID}); err != nil {
		s.logger.Warn("failed to broadcast perk change", slog.Any("error", err))
	}
}
