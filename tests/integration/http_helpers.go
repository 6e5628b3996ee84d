package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/cache"
	"github.com/fablehq/accounts/internal/config"
	"github.com/fablehq/accounts/internal/database"
	"github.com/fablehq/accounts/internal/handlers"
	"github.com/fablehq/accounts/internal/notifier"
	"github.com/fablehq/accounts/internal/routes"
	"github.com/fablehq/accounts/internal/services"
	pkglogger "github.com/fablehq/accounts/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To    string
	Token string
}

// CaptureEmailService records password reset emails for test assertions
type CaptureEmailService struct {
	mu         sync.Mutex
	SentEmails []SentEmail
}

func (m *CaptureEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentEmails = append(m.SentEmails, SentEmail{To: email, Token: token})
	return nil
}

// GetLastEmail returns the most recent email sent
func (m *CaptureEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

// memoryRevocationList is an in-process token denylist, standing in for
// the Redis-backed one so HTTP tests only need the database container.
type memoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]struct{}
}

func newMemoryRevocationList() *memoryRevocationList {
	return &memoryRevocationList{revoked: make(map[string]struct{})}
}

func (l *memoryRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[jti] = struct{}{}
	return nil
}

func (l *memoryRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.revoked[jti]
	return ok, nil
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *CaptureEmailService
	Config       *config.Config
	Snapshots    *services.MemorySnapshotStore
}

// NewTestServer initializes a complete HTTP server with real database,
// in-memory session state and a captured mailer
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			SuperAdminEmail:    "owner@test.local",
		},
		Session: config.SessionConfig{
			NameOverrideWindow: 10 * time.Second,
			ProfileCacheTTL:    5 * time.Minute,
			SnapshotTTL:        time.Hour,
			BanSweepInterval:   time.Hour,
		},
		Email: config.EmailConfig{
			TokenExpiry: time.Hour,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
		},
	}

	profileRepo, banRepo, settingsRepo, resetRepo := InitializeRepositories(db)

	mockEmail := &CaptureEmailService{}

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)
	profileCache := cache.NewProfileCache(cfg.Session.ProfileCacheTTL, nil)
	snapshots := services.NewMemorySnapshotStore()
	revocation := newMemoryRevocationList()
	events := notifier.NewLocalNotifier(logger)

	banService := services.NewBanService(profileRepo, banRepo, profileCache, events, auditLogger, cfg.Auth.IsSuperAdmin, nil, logger)
	privilegeService := services.NewPrivilegeService(profileRepo, snapshots, profileCache, events, auditLogger, logger)
	settingsService := services.NewSettingsService(settingsRepo, events, auditLogger, logger)
	adminService := services.NewAdminService(profileRepo, nil, logger)
	sessionService := services.NewSessionService(
		profileRepo,
		snapshots,
		banService,
		settingsService,
		tokenManager,
		revocation,
		profileCache,
		events,
		auditLogger,
		cfg.Session.NameOverrideWindow,
		nil,
		logger,
	)
	resetService := services.NewPasswordResetService(resetRepo, profileRepo, snapshots, mockEmail, auditLogger, cfg.Email.TokenExpiry, logger)

	authHandler := handlers.NewAuthHandler(sessionService, resetService)
	profileHandler := handlers.NewProfileHandler(sessionService, banService)
	adminHandler := handlers.NewAdminHandler(adminService, privilegeService, banService, settingsService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, profileHandler, adminHandler, tokenManager, revocation, profileRepo, cfg.Auth.IsSuperAdmin)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		EmailService: mockEmail,
		Config:       cfg,
		Snapshots:    snapshots,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts access/refresh tokens from a session response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var sessionResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&sessionResp); err != nil {
		return "", "", err
	}

	if access, ok := sessionResp["access_token"].(string); ok {
		accessToken = access
	}
	if refresh, ok := sessionResp["refresh_token"].(string); ok {
		refreshToken = refresh
	}

	return
}
