package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/pkg/auth"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

var testAuthConfig = config.AuthConfig{SessionSecret: "secret", Issuer: "https://auth.test", ClockSkew: time.Second}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testAuthConfig, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testAuthConfig, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	other := testAuthConfig
	other.Issuer = "https://elsewhere.test"
	token := mintTestToken(t, other, "user_1", enums.ActorRoleMember)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(testAuthConfig, nil)(okHandler()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsContext(t *testing.T) {
	token := mintTestToken(t, testAuthConfig, "user_1", enums.ActorRoleAdmin)

	var captured struct {
		user  string
		role  enums.ActorRole
		email string
	}
	handler := Auth(testAuthConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.email = EmailFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "user_1", captured.user)
	assert.Equal(t, enums.ActorRoleAdmin, captured.role)
	assert.Equal(t, "user_1@example.com", captured.email)
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRole(req.Context(), enums.ActorRoleMember))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = req.WithContext(WithRole(req.Context(), enums.ActorRoleAdmin))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func mintTestToken(t *testing.T, cfg config.AuthConfig, userID string, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintSessionToken(cfg, time.Now(), time.Hour, auth.SessionPayload{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
