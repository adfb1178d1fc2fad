package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/edutech-rw/asset-api/internal/middleware"
	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/service"
)

type authRepoStub struct {
	users map[string]*models.User
}

func (r *authRepoStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *authRepoStub) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (r *authRepoStub) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func newTestAuthHandler(t *testing.T) (*AuthHandler, *authRepoStub) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &authRepoStub{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "admin@reb.rw", PasswordHash: string(hash), Role: models.RoleAdmin, Active: true},
	}}
	svc := service.NewAuthService(repo, nil, nil, service.AuthConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "asset-api",
	})
	return NewAuthHandler(svc), repo
}

func TestAuthHandlerLogin(t *testing.T) {
	handler, _ := newTestAuthHandler(t)

	payload, _ := json.Marshal(models.LoginRequest{Email: "admin@reb.rw", Password: "s3cret-pass"})
	c, w := testContext(t, http.MethodPost, "/auth/login", payload)

	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.AccessToken)
}

func TestAuthHandlerLoginBadCredentials(t *testing.T) {
	handler, _ := newTestAuthHandler(t)

	payload, _ := json.Marshal(models.LoginRequest{Email: "admin@reb.rw", Password: "wrong"})
	c, w := testContext(t, http.MethodPost, "/auth/login", payload)

	handler.Login(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	handler, _ := newTestAuthHandler(t)

	c, w := testContext(t, http.MethodPost, "/auth/login", []byte(`{"email":`))

	handler.Login(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerLogoutMissingToken(t *testing.T) {
	handler, _ := newTestAuthHandler(t)

	c, w := testContext(t, http.MethodPost, "/auth/logout", nil)

	handler.Logout(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	handler, _ := newTestAuthHandler(t)

	c, w := testContext(t, http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin})

	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data models.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "admin@reb.rw", body.Data.Email)
}

func TestAuthHandlerMeWithoutClaims(t *testing.T) {
	handler, _ := newTestAuthHandler(t)

	c, w := testContext(t, http.MethodGet, "/auth/me", nil)

	handler.Me(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
