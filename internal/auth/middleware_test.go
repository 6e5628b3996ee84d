package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fablehq/accounts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProfileFetcher struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Profile, error)
}

func (m *mockProfileFetcher) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

type mockRevocation struct {
	revoked bool
	err     error
}

func (m *mockRevocation) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return m.revoked, m.err
}

func newTestTokenManager() *TokenManager {
	return NewTokenManager("unit-test-secret-with-length", 15*time.Minute, 24*time.Hour)
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	hit := false
	mw := Middleware(tm, nil)(okHandler(&hit))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	assert.True(t, hit)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	hit := false
	mw := Middleware(newTestTokenManager(), nil)(okHandler(&hit))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	assert.False(t, hit)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsRefreshToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateRefreshToken("u1", "user@example.com")
	require.NoError(t, err)

	hit := false
	mw := Middleware(tm, nil)(okHandler(&hit))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	assert.False(t, hit)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RevokedToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	hit := false
	mw := Middleware(tm, &mockRevocation{revoked: true})(okHandler(&hit))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	assert.False(t, hit)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RevocationCheckFailsOpen(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	hit := false
	mw := Middleware(tm, &mockRevocation{err: errors.New("redis down")})(okHandler(&hit))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	assert.True(t, hit, "denylist outage must not lock out valid tokens")
}

func requireAdminRequest(t *testing.T, tm *TokenManager, fetcher ProfileFetcher, isSuper func(string) bool) *httptest.ResponseRecorder {
	t.Helper()

	token, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	hit := false
	chain := Middleware(tm, nil)(RequireAdmin(fetcher, isSuper)(okHandler(&hit)))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	chain.ServeHTTP(rec, req)
	return rec
}

func TestRequireAdmin_AdminPerkAllowed(t *testing.T) {
	fetcher := &mockProfileFetcher{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return &models.Profile{ID: id, Email: "user@example.com", Perks: []string{models.PerkUser, models.PerkAdmin}}, nil
		},
	}

	rec := requireAdminRequest(t, newTestTokenManager(), fetcher, func(string) bool { return false })

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin_SuperAdminBypass(t *testing.T) {
	fetcher := &mockProfileFetcher{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return &models.Profile{ID: id, Email: "owner@fable.blog", Perks: []string{models.PerkUser}}, nil
		},
	}

	rec := requireAdminRequest(t, newTestTokenManager(), fetcher, func(email string) bool { return email == "owner@fable.blog" })

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin_RegularUserForbidden(t *testing.T) {
	fetcher := &mockProfileFetcher{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Profile, error) {
			return &models.Profile{ID: id, Email: "user@example.com", Perks: []string{models.PerkUser}}, nil
		},
	}

	rec := requireAdminRequest(t, newTestTokenManager(), fetcher, func(string) bool { return false })

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
