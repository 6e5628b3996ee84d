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

// SessionServiceInterface defines the session lifecycle surface the
// auth endpoints need
type SessionServiceInterface interface {
	Register(ctx context.Context, email, displayName, password, clientIP string) (*models.SessionUser, *models.TokenPair, error)
	Login(ctx context.Context, email, password, clientIP string) (*models.SessionUser, *models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.SessionUser, *models.TokenPair, error)
	Logout(ctx context.Context, claims *models.TokenClaims)
}

// PasswordResetServiceInterface defines the forgot-password surface
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email, clientIP string) error
	ConfirmReset(ctx context.Context, plainToken, newPassword string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	sessions SessionServiceInterface
	resets   PasswordResetServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions SessionServiceInterface, resets PasswordResetServiceInterface) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		resets:   resets,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=40"`
	Password    string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ResetRequestRequest represents the request body for a password reset link
type ResetRequestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetConfirmRequest represents the request body for redeeming a reset token
type ResetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse is the body returned by login, register and refresh
type SessionResponse struct {
	User         *models.SessionUser `json:"user"`
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
}

func writeSession(w http.ResponseWriter, statusCode int, user *models.SessionUser, pair *models.TokenPair) {
	pkghttp.WriteJSON(w, statusCode, SessionResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// writeBanned returns 403 with the full ban status so the client can
// show the reason and remaining duration.
func writeBanned(w http.ResponseWriter, bannedErr *models.BannedError) {
	pkghttp.WriteErrorWithDetails(w, http.StatusForbidden, "banned", "Account is banned", bannedErr.Status)
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r)

	user, pair, err := h.sessions.Register(r.Context(), req.Email, req.DisplayName, req.Password, clientIP)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Email already registered")
		case errors.Is(err, models.ErrDisplayNameTaken):
			pkghttp.WriteConflict(w, "Display name already in use")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeSession(w, http.StatusCreated, user, pair)
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r)

	user, pair, err := h.sessions.Login(r.Context(), req.Email, req.Password, clientIP)
	if err != nil {
		var bannedErr *models.BannedError
		switch {
		case errors.As(err, &bannedErr):
			writeBanned(w, bannedErr)
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeSession(w, http.StatusOK, user, pair)
}

// Refresh handles token refresh and session reconciliation
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		var bannedErr *models.BannedError
		switch {
		case errors.As(err, &bannedErr):
			writeBanned(w, bannedErr)
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeSession(w, http.StatusOK, user, pair)
}

// Logout revokes the presented token and drops the server-side session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	h.sessions.Logout(r.Context(), claims)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// RequestPasswordReset mails a reset link. The response is identical
// for known and unknown addresses.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r)

	if err := h.resets.RequestReset(r.Context(), req.Email, clientIP); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address is registered, a reset link has been sent.",
	})
}

// ConfirmPasswordReset redeems a reset token and sets the new password
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.resets.ConfirmReset(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrResetTokenUsed), errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Reset link is invalid or has expired")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}
