package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/services"
	pkghttp "github.com/fablehq/accounts/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the dashboard read surface
type AdminServiceInterface interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.Profile, error)
	Stats(ctx context.Context) (*services.UserStats, error)
}

// PrivilegeServiceInterface defines the perk reconciliation surface
type PrivilegeServiceInterface interface {
	UpdatePerks(ctx context.Context, admin *models.Profile, userID string, perks []string) (*models.Profile, error)
}

// BanServiceInterface defines the moderation ban surface
type BanServiceInterface interface {
	Ban(ctx context.Context, admin *models.Profile, userID, reason string, duration time.Duration) error
	Unban(ctx context.Context, admin *models.Profile, userID string) error
	History(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error)
	CheckBan(ctx context.Context, userID string) *models.BanStatus
}

// SettingsServiceInterface defines the site settings surface
type SettingsServiceInterface interface {
	Get(ctx context.Context) (*models.SiteSettings, error)
	SetEarlyUserPromotion(ctx context.Context, admin *models.Profile, enabled bool) (*models.SiteSettings, error)
}

// AdminHandler handles moderation and dashboard HTTP requests
type AdminHandler struct {
	admin      AdminServiceInterface
	privileges PrivilegeServiceInterface
	bans       BanServiceInterface
	settings   SettingsServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(
	admin AdminServiceInterface,
	privileges PrivilegeServiceInterface,
	bans BanServiceInterface,
	settings SettingsServiceInterface,
) *AdminHandler {
	return &AdminHandler{
		admin:      admin,
		privileges: privileges,
		bans:       bans,
		settings:   settings,
	}
}

// UpdatePerksRequest represents the request body for a perk change
type UpdatePerksRequest struct {
	Perks []string `json:"perks" validate:"required"`
}

// BanUserRequest represents the request body for banning a user.
// A zero duration is a permanent ban.
type BanUserRequest struct {
	Reason          string `json:"reason" validate:"required,min=1,max=500"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0"`
}

// SetEarlyUserPromotionRequest toggles the registration promotion
type SetEarlyUserPromotionRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// AdminUserResponse is the dashboard view of a profile. Credentials and
// sync internals stay server-side.
type AdminUserResponse struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Perks       []string   `json:"perks"`
	ActivePerk  string     `json:"active_perk"`
	Avatar      string     `json:"avatar,omitempty"`
	IsBanned    bool       `json:"is_banned"`
	BanReason   *string    `json:"ban_reason,omitempty"`
	BanEndAt    *time.Time `json:"ban_end_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func adminUserFromProfile(p *models.Profile) AdminUserResponse {
	return AdminUserResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Perks:       p.Perks,
		ActivePerk:  p.ActivePerk,
		Avatar:      p.Avatar,
		IsBanned:    p.IsBanned,
		BanReason:   p.BanReason,
		BanEndAt:    p.BanEndAt,
		CreatedAt:   p.CreatedAt,
	}
}

// BanRecordResponse is one moderation log entry
type BanRecordResponse struct {
	ID        string     `json:"id"`
	AdminName string     `json:"admin_name"`
	Reason    string     `json:"reason"`
	BanType   string     `json:"ban_type"`
	CreatedAt time.Time  `json:"created_at"`
	EndAt     *time.Time `json:"end_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// ListUsers returns a page of profiles
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	profiles, err := h.admin.ListUsers(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	users := make([]AdminUserResponse, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, adminUserFromProfile(p))
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Stats returns the dashboard counters
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// UpdatePerks replaces a user's perk set
func (h *AdminHandler) UpdatePerks(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetProfileFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	userID := chi.URLParam(r, "id")

	var req UpdatePerksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	updated, err := h.privileges.UpdatePerks(r.Context(), admin, userID, req.Perks)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidPerk):
			pkghttp.WriteBadRequest(w, "Unknown perk in request")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, adminUserFromProfile(updated))
}

// BanUser bans a user
func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetProfileFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	userID := chi.URLParam(r, "id")

	var req BanUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second

	if err := h.bans.Ban(r.Context(), admin, userID, req.Reason, duration); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "This account cannot be banned")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.bans.CheckBan(r.Context(), userID))
}

// UnbanUser lifts a user's ban
func (h *AdminHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetProfileFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	userID := chi.URLParam(r, "id")

	if err := h.bans.Unban(r.Context(), admin, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Ban lifted"})
}

// ListUserBans returns a user's moderation log
func (h *AdminHandler) ListUserBans(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.bans.History(r.Context(), userID, limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	out := make([]BanRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, BanRecordResponse{
			ID:        rec.ID,
			AdminName: rec.AdminName,
			Reason:    rec.Reason,
			BanType:   rec.BanType,
			CreatedAt: rec.CreatedAt,
			EndAt:     rec.EndAt,
			IsActive:  rec.IsActive,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"bans": out})
}

// GetSettings returns the site settings singleton
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, settings)
}

// SetEarlyUserPromotion toggles the registration promotion
func (h *AdminHandler) SetEarlyUserPromotion(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetProfileFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req SetEarlyUserPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	settings, err := h.settings.SetEarlyUserPromotion(r.Context(), admin, *req.Enabled)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, settings)
}
