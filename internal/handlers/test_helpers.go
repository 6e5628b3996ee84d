package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fablehq/accounts/internal/auth"
	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	RegisterFunc func(ctx context.Context, email, displayName, password, clientIP string) (*models.SessionUser, *models.TokenPair, error)
	LoginFunc    func(ctx context.Context, email, password, clientIP string) (*models.SessionUser, *models.TokenPair, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*models.SessionUser, *models.TokenPair, error)
	LogoutFunc   func(ctx context.Context, claims *models.TokenClaims)
}

func (m *MockSessionService) Register(ctx context.Context, email, displayName, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, displayName, password, clientIP)
	}
	return nil, nil, models.ErrInternalServer
}

func (m *MockSessionService) Login(ctx context.Context, email, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, clientIP)
	}
	return nil, nil, models.ErrUnauthorized
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (*models.SessionUser, *models.TokenPair, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, nil, models.ErrUnauthorized
}

func (m *MockSessionService) Logout(ctx context.Context, claims *models.TokenClaims) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(ctx, claims)
	}
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestResetFunc func(ctx context.Context, email, clientIP string) error
	ConfirmResetFunc func(ctx context.Context, plainToken, newPassword string) error
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email, clientIP string) error {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email, clientIP)
	}
	return nil
}

func (m *MockPasswordResetService) ConfirmReset(ctx context.Context, plainToken, newPassword string) error {
	if m.ConfirmResetFunc != nil {
		return m.ConfirmResetFunc(ctx, plainToken, newPassword)
	}
	return nil
}

// MockProfileService implements ProfileServiceInterface for testing
type MockProfileService struct {
	MeFunc                func(ctx context.Context, userID string) (*models.SessionUser, error)
	UpdateDisplayNameFunc func(ctx context.Context, userID, name string) (*models.SessionUser, error)
	UpdateAvatarFunc      func(ctx context.Context, userID, avatar string) (*models.SessionUser, error)
	SetActivePerkFunc     func(ctx context.Context, userID, perk string) (*models.SessionUser, error)
}

func (m *MockProfileService) Me(ctx context.Context, userID string) (*models.SessionUser, error) {
	if m.MeFunc != nil {
		return m.MeFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileService) UpdateDisplayName(ctx context.Context, userID, name string) (*models.SessionUser, error) {
	if m.UpdateDisplayNameFunc != nil {
		return m.UpdateDisplayNameFunc(ctx, userID, name)
	}
	return nil, models.ErrInternalServer
}

func (m *MockProfileService) UpdateAvatar(ctx context.Context, userID, avatar string) (*models.SessionUser, error) {
	if m.UpdateAvatarFunc != nil {
		return m.UpdateAvatarFunc(ctx, userID, avatar)
	}
	return nil, models.ErrInternalServer
}

func (m *MockProfileService) SetActivePerk(ctx context.Context, userID, perk string) (*models.SessionUser, error) {
	if m.SetActivePerkFunc != nil {
		return m.SetActivePerkFunc(ctx, userID, perk)
	}
	return nil, models.ErrInternalServer
}

// MockBanService implements BanServiceInterface and BanStatusResolver
// for testing
type MockBanService struct {
	BanFunc      func(ctx context.Context, admin *models.Profile, userID, reason string, duration time.Duration) error
	UnbanFunc    func(ctx context.Context, admin *models.Profile, userID string) error
	HistoryFunc  func(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error)
	CheckBanFunc func(ctx context.Context, userID string) *models.BanStatus
}

func (m *MockBanService) Ban(ctx context.Context, admin *models.Profile, userID, reason string, duration time.Duration) error {
	if m.BanFunc != nil {
		return m.BanFunc(ctx, admin, userID, reason, duration)
	}
	return nil
}

func (m *MockBanService) Unban(ctx context.Context, admin *models.Profile, userID string) error {
	if m.UnbanFunc != nil {
		return m.UnbanFunc(ctx, admin, userID)
	}
	return nil
}

func (m *MockBanService) History(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, userID, limit)
	}
	return []*models.BanRecord{}, nil
}

func (m *MockBanService) CheckBan(ctx context.Context, userID string) *models.BanStatus {
	if m.CheckBanFunc != nil {
		return m.CheckBanFunc(ctx, userID)
	}
	return &models.BanStatus{Banned: false}
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ListUsersFunc func(ctx context.Context, limit, offset int) ([]*models.Profile, error)
	StatsFunc     func(ctx context.Context) (*services.UserStats, error)
}

func (m *MockAdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx, limit, offset)
	}
	return []*models.Profile{}, nil
}

func (m *MockAdminService) Stats(ctx context.Context) (*services.UserStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &services.UserStats{}, nil
}

// MockPrivilegeService implements PrivilegeServiceInterface for testing
type MockPrivilegeService struct {
	UpdatePerksFunc func(ctx context.Context, admin *models.Profile, userID string, perks []string) (*models.Profile, error)
}

func (m *MockPrivilegeService) UpdatePerks(ctx context.Context, admin *models.Profile, userID string, perks []string) (*models.Profile, error) {
	if m.UpdatePerksFunc != nil {
		return m.UpdatePerksFunc(ctx, admin, userID, perks)
	}
	return nil, models.ErrInternalServer
}

// MockSettingsService implements SettingsServiceInterface for testing
type MockSettingsService struct {
	GetFunc                   func(ctx context.Context) (*models.SiteSettings, error)
	SetEarlyUserPromotionFunc func(ctx context.Context, admin *models.Profile, enabled bool) (*models.SiteSettings, error)
}

func (m *MockSettingsService) Get(ctx context.Context) (*models.SiteSettings, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx)
	}
	return &models.SiteSettings{}, nil
}

func (m *MockSettingsService) SetEarlyUserPromotion(ctx context.Context, admin *models.Profile, enabled bool) (*models.SiteSettings, error) {
	if m.SetEarlyUserPromotionFunc != nil {
		return m.SetEarlyUserPromotionFunc(ctx, admin, enabled)
	}
	return &models.SiteSettings{EarlyUserPromotion: enabled}, nil
}

// jsonRequest builds a request with a JSON body
func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withClaims injects authenticated token claims into the request
func withClaims(r *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		Type:   "access",
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti_test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
		},
	}
	ctx := context.WithValue(r.Context(), auth.UserContextKey, claims)
	return r.WithContext(ctx)
}

// withAdminProfile injects the resolved admin profile into the request
func withAdminProfile(r *http.Request, admin *models.Profile) *http.Request {
	ctx := context.WithValue(r.Context(), auth.ProfileContextKey, admin)
	return r.WithContext(ctx)
}

// withURLParam injects a chi route parameter into the request
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// testSessionUser builds a session snapshot
func testSessionUser(userID, email, name string) *models.SessionUser {
	return &models.SessionUser{
		UserID:      userID,
		Email:       email,
		DisplayName: name,
		Perks:       []string{models.PerkUser},
		ActivePerk:  models.PerkUser,
		CreatedAt:   time.Now(),
	}
}

// testAdminProfile builds an admin profile
func testAdminProfile(id, email, name string) *models.Profile {
	return &models.Profile{
		ID:          id,
		Email:       email,
		DisplayName: name,
		Perks:       []string{models.PerkUser, models.PerkAdmin},
		ActivePerk:  models.PerkAdmin,
	}
}
