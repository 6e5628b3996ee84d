package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fablehq/accounts/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// ProfileContextKey holds the resolved admin profile past RequireAdmin
	ProfileContextKey contextKey = "profile"
)

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ProfileFetcher is the read surface the middleware needs.
type ProfileFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
}

// Middleware validates JWT tokens, checks the revocation denylist and
// injects the claims into context. The revocation check fails open: an
// unavailable denylist never locks out valid tokens.
func Middleware(tm *TokenManager, revocation RevocationChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			// Refresh tokens are only valid against /auth/refresh
			if claims.Type == "refresh" {
				http.Error(w, "refresh tokens cannot be used for API access", http.StatusUnauthorized)
				return
			}

			if revocation != nil && claims.ID != "" {
				revoked, err := revocation.IsRevoked(r.Context(), claims.ID)
				if err == nil && revoked {
					http.Error(w, "token has been revoked", http.StatusUnauthorized)
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows the request through when the caller holds the
// admin perk or is the configured super admin. The resolved profile is
// placed in context for handlers that need actor attribution.
func RequireAdmin(profiles ProfileFetcher, isSuperAdmin func(email string) bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			profile, err := profiles.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					http.Error(w, "user not found", http.StatusUnauthorized)
					return
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if !profile.IsAdmin() && !isSuperAdmin(profile.Email) {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ProfileContextKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetProfileFromContext extracts the admin profile stored by RequireAdmin
func GetProfileFromContext(r *http.Request) *models.Profile {
	profile, ok := r.Context().Value(ProfileContextKey).(*models.Profile)
	if !ok {
		return nil
	}
	return profile
}
