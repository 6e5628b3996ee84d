package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/background"
	"github.com/fablehq/accounts/internal/cache"
	"github.com/fablehq/accounts/internal/config"
	"github.com/fablehq/accounts/internal/database"
	"github.com/fablehq/accounts/internal/handlers"
	middlewareCustom "github.com/fablehq/accounts/internal/middleware"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/notifier"
	"github.com/fablehq/accounts/internal/repositories"
	"github.com/fablehq/accounts/internal/routes"
	"github.com/fablehq/accounts/internal/services"
	"github.com/fablehq/accounts/internal/session"
	pkgauth "github.com/fablehq/accounts/pkg/auth"
	pkglogger "github.com/fablehq/accounts/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize Redis
	rdb, err := database.NewRedis(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	// Initialize repositories
	profileRepo := repositories.NewProfileRepository(db)
	banRepo := repositories.NewBanRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	// Shared infrastructure
	profileCache := cache.NewProfileCache(cfg.Session.ProfileCacheTTL, nil)
	snapshotStore := session.NewStore(rdb, cfg.Session.SnapshotTTL)
	revocationList := session.NewRevocationList(rdb)

	events := notifier.NewRedisNotifier(rdb, "accounts:events", logger)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Password reset mailer: SES when a from-address is configured,
	// log-only otherwise so local development needs no AWS account.
	var emailService services.EmailService
	if cfg.Email.Enabled {
		sesService, err := services.NewAWSSESEmailService(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.ResetURLBase,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailService = sesService
	} else {
		logger.Warn("EMAIL_FROM_ADDRESS not set, password reset emails will only be logged")
		emailService = &services.LogEmailService{Logger: logger}
	}

	// Initialize services
	banService := services.NewBanService(profileRepo, banRepo, profileCache, events, auditLogger, cfg.Auth.IsSuperAdmin, nil, logger)
	privilegeService := services.NewPrivilegeService(profileRepo, snapshotStore, profileCache, events, auditLogger, logger)
	settingsService := services.NewSettingsService(settingsRepo, events, auditLogger, logger)
	adminService := services.NewAdminService(profileRepo, nil, logger)
	sessionService := services.NewSessionService(
		profileRepo,
		snapshotStore,
		banService,
		settingsService,
		tokenManager,
		revocationList,
		profileCache,
		events,
		auditLogger,
		cfg.Session.NameOverrideWindow,
		nil,
		logger,
	)
	resetService := services.NewPasswordResetService(resetRepo, profileRepo, snapshotStore, emailService, auditLogger, cfg.Email.TokenExpiry, logger)

	// Sync live sessions when another component or instance changes a
	// profile.
	syncSession := func(event string, payload []byte) {
		var msg struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.UserID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sessionService.ApplyProfile(ctx, msg.UserID)
	}
	events.On(notifier.EventProfileUpdated, syncSession)
	events.On(notifier.EventProfileBanned, syncSession)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(sessionService, resetService)
	profileHandler := handlers.NewProfileHandler(sessionService, banService)
	adminHandler := handlers.NewAdminHandler(adminService, privilegeService, banService, settingsService)

	// Initialize background sweeper
	banSweeper := background.NewBanSweeper(profileRepo, banRepo, resetRepo, logger, cfg.Session.BanSweepInterval)

	// Bootstrap the owner profile if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureOwnerProfile(ctx, profileRepo, cfg, logger); err != nil {
		logger.Error("failed to ensure owner profile", slog.Any("error", err))
	}
	cancel()

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, profileHandler, adminHandler, tokenManager, revocationList, profileRepo, cfg.Auth.IsSuperAdmin)

	// Health check with database and redis
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		if err := rdb.Ping(ctx).Err(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","redis":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background tasks
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	go events.Listen(backgroundCtx)
	go banSweeper.Start(backgroundCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	backgroundCancel()
	banSweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureOwnerProfile creates the configured super admin account if
// SUPER_ADMIN_EMAIL and SUPER_ADMIN_PASSWORD are both set
func ensureOwnerProfile(ctx context.Context, profileRepo *repositories.ProfileRepository, cfg *config.Config, logger *slog.Logger) error {
	ownerEmail := cfg.Auth.SuperAdminEmail
	ownerPassword := os.Getenv("SUPER_ADMIN_PASSWORD")

	if ownerEmail == "" || ownerPassword == "" {
		logger.Info("no SUPER_ADMIN_EMAIL or SUPER_ADMIN_PASSWORD set, skipping owner profile creation")
		return nil
	}

	_, err := profileRepo.GetByEmail(ctx, ownerEmail)
	if err == nil {
		logger.Info("owner profile already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if owner exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(ownerPassword)
	if err != nil {
		return fmt.Errorf("failed to hash owner password: %w", err)
	}

	owner := &models.Profile{
		Email:        ownerEmail,
		PasswordHash: hashedPassword,
		DisplayName:  "Owner",
		Perks:        []string{models.PerkUser, models.PerkAdmin},
		ActivePerk:   models.PerkAdmin,
	}

	if _, err := profileRepo.Create(ctx, owner); err != nil {
		return fmt.Errorf("failed to create owner profile: %w", err)
	}

	logger.Info("owner profile created successfully")
	return nil
}
