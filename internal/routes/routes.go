package routes

import (
	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/handlers"
	"github.com/fablehq/accounts/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	profileHandler *handlers.ProfileHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	revocation auth.RevocationChecker,
	profiles auth.ProfileFetcher,
	isSuperAdmin func(email string) bool,
) {
	// Rate limiting config for auth endpoints
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/refresh", authHandler.Refresh)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset/request", authHandler.RequestPasswordReset)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset/confirm", authHandler.ConfirmPasswordReset)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager, revocation))

		r.Post("/auth/logout", authHandler.Logout)

		r.Get("/me", profileHandler.Me)
		r.Get("/me/ban-status", profileHandler.BanStatus)
		r.Put("/me/display-name", profileHandler.UpdateDisplayName)
		r.Put("/me/avatar", profileHandler.UpdateAvatar)
		r.Put("/me/active-perk", profileHandler.SetActivePerk)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(profiles, isSuperAdmin))

			r.Get("/admin/users", adminHandler.ListUsers)
			r.Get("/admin/stats", adminHandler.Stats)
			r.Put("/admin/users/{id}/perks", adminHandler.UpdatePerks)
			r.Post("/admin/users/{id}/ban", adminHandler.BanUser)
			r.Delete("/admin/users/{id}/ban", adminHandler.UnbanUser)
			r.Get("/admin/users/{id}/bans", adminHandler.ListUserBans)
			r.Get("/admin/settings", adminHandler.GetSettings)
			r.Put("/admin/settings/early-user-promotion", adminHandler.SetEarlyUserPromotion)
		})
	})
}
