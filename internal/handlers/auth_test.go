package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fablehq/accounts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionPair() *models.TokenPair {
	return &models.TokenPair{AccessToken: "access", RefreshToken: "refresh"}
}

func TestRegister_Created(t *testing.T) {
	sessions := &MockSessionService{
		RegisterFunc: func(ctx context.Context, email, displayName, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
			return testSessionUser("u1", email, displayName), sessionPair(), nil
		},
	}
	h := NewAuthHandler(sessions, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/register", RegisterRequest{
		Email:       "new@example.com",
		DisplayName: "newcomer",
		Password:    "Str0ngPassw0rd",
	})
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.User.UserID)
	assert.Equal(t, "access", resp.AccessToken)
}

func TestRegister_InvalidBody(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockPasswordResetService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_MissingEmail(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/register", RegisterRequest{
		DisplayName: "newcomer",
		Password:    "Str0ngPassw0rd",
	})
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_NameConflict(t *testing.T) {
	sessions := &MockSessionService{
		RegisterFunc: func(ctx context.Context, email, displayName, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
			return nil, nil, models.ErrDisplayNameTaken
		},
	}
	h := NewAuthHandler(sessions, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/register", RegisterRequest{
		Email:       "new@example.com",
		DisplayName: "taken",
		Password:    "Str0ngPassw0rd",
	})
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin_OK(t *testing.T) {
	sessions := &MockSessionService{
		LoginFunc: func(ctx context.Context, email, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
			return testSessionUser("u1", email, "reader"), sessionPair(), nil
		},
	}
	h := NewAuthHandler(sessions, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{
		Email:    "user@example.com",
		Password: "Str0ngPassw0rd",
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_BadCredentials(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{
		Email:    "user@example.com",
		Password: "wrong",
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_BannedCarriesStatus(t *testing.T) {
	sessions := &MockSessionService{
		LoginFunc: func(ctx context.Context, email, password, clientIP string) (*models.SessionUser, *models.TokenPair, error) {
			return nil, nil, &models.BannedError{Status: &models.BanStatus{
				Banned: true,
				Reason: "spam",
			}}
		},
	}
	h := NewAuthHandler(sessions, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{
		Email:    "user@example.com",
		Password: "Str0ngPassw0rd",
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Error   string           `json:"error"`
		Details models.BanStatus `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "banned", body.Error)
	assert.Equal(t, "spam", body.Details.Reason)
}

func TestRefresh_OK(t *testing.T) {
	sessions := &MockSessionService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*models.SessionUser, *models.TokenPair, error) {
			return testSessionUser("u1", "user@example.com", "reader"), sessionPair(), nil
		},
	}
	h := NewAuthHandler(sessions, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/refresh", RefreshTokenRequest{RefreshToken: "refresh"})
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_InvalidToken(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/refresh", RefreshTokenRequest{RefreshToken: "stale"})
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_RequiresClaims(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockPasswordResetService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_OK(t *testing.T) {
	loggedOut := false
	sessions := &MockSessionService{
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims) {
			loggedOut = true
		},
	}
	h := NewAuthHandler(sessions, &MockPasswordResetService{})

	req := withClaims(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "u1", "user@example.com")
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, loggedOut)
}

func TestRequestPasswordReset_AlwaysAccepted(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockPasswordResetService{})

	req := jsonRequest(t, http.MethodPost, "/auth/password-reset/request", ResetRequestRequest{
		Email: "ghost@example.com",
	})
	rec := httptest.NewRecorder()

	h.RequestPasswordReset(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestConfirmPasswordReset_UsedToken(t *testing.T) {
	resets := &MockPasswordResetService{
		ConfirmResetFunc: func(ctx context.Context, plainToken, newPassword string) error {
			return models.ErrResetTokenUsed
		},
	}
	h := NewAuthHandler(&MockSessionService{}, resets)

	req := jsonRequest(t, http.MethodPost, "/auth/password-reset/confirm", ResetConfirmRequest{
		Token:    "burnt",
		Password: "N3wPassword!",
	})
	rec := httptest.NewRecorder()

	h.ConfirmPasswordReset(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
