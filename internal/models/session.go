package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionUser is the denormalized snapshot of an authenticated user's
// profile plus auth metadata. It is persisted in the session store so
// the snapshot survives process restarts, and refreshed against the
// profile row by the session service.
type SessionUser struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Avatar      string     `json:"avatar"`
	Perks       []string   `json:"perks"`
	ActivePerk  string     `json:"active_perk"`
	CreatedAt   time.Time  `json:"created_at"`
	// NameSetAt records the last manual display-name edit. While the
	// edit is younger than the configured override window, refresh
	// prefers the local value over the database value.
	NameSetAt *time.Time `json:"name_set_at,omitempty"`
}

// TokenClaims are the JWT claims carried by access and refresh tokens.
type TokenClaims struct {
	Type   string `json:"type"` // "access" or "refresh"
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login, registration or
// refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
