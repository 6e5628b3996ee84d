package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/models"
	pkghttp "github.com/fablehq/accounts/pkg/http"
)

// ProfileServiceInterface defines the self-service profile surface
type ProfileServiceInterface interface {
	Me(ctx context.Context, userID string) (*models.SessionUser, error)
	UpdateDisplayName(ctx context.Context, userID, name string) (*models.SessionUser, error)
	UpdateAvatar(ctx context.Context, userID, avatar string) (*models.SessionUser, error)
	SetActivePerk(ctx context.Context, userID, perk string) (*models.SessionUser, error)
}

// BanStatusResolver resolves the caller's own ban status
type BanStatusResolver interface {
	CheckBan(ctx context.Context, userID string) *models.BanStatus
}

// ProfileHandler handles the authenticated user's own profile
type ProfileHandler struct {
	profiles ProfileServiceInterface
	bans     BanStatusResolver
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(profiles ProfileServiceInterface, bans BanStatusResolver) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		bans:     bans,
	}
}

// UpdateDisplayNameRequest represents the request body for a rename
type UpdateDisplayNameRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=40"`
}

// UpdateAvatarRequest represents the request body for an avatar change
type UpdateAvatarRequest struct {
	Avatar string `json:"avatar" validate:"required,url,max=500"`
}

// SetActivePerkRequest represents the request body for selecting the
// presented perk
type SetActivePerkRequest struct {
	ActivePerk string `json:"active_perk" validate:"required"`
}

// Me returns the caller's session snapshot
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	user, err := h.profiles.Me(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Profile not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// BanStatus returns the caller's live ban status
func (h *ProfileHandler) BanStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.bans.CheckBan(r.Context(), claims.UserID))
}

// UpdateDisplayName renames the caller
func (h *ProfileHandler) UpdateDisplayName(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req UpdateDisplayNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.profiles.UpdateDisplayName(r.Context(), claims.UserID, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDisplayNameTaken):
			pkghttp.WriteConflict(w, "Display name already in use")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid display name")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Profile not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// UpdateAvatar sets the caller's avatar URL
func (h *ProfileHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req UpdateAvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.profiles.UpdateAvatar(r.Context(), claims.UserID, req.Avatar)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Profile not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// SetActivePerk selects which held perk the caller presents
func (h *ProfileHandler) SetActivePerk(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req SetActivePerkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.profiles.SetActivePerk(r.Context(), claims.UserID, req.ActivePerk)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidPerk):
			pkghttp.WriteBadRequest(w, "Perk is not granted to this profile")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Profile not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}
