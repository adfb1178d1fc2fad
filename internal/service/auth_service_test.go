package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edutech-rw/asset-api/internal/models"
)

type mockAuthRepo struct {
	users      map[string]models.User
	lastLogins map[string]time.Time
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := user
	return &copied, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if m.lastLogins == nil {
		m.lastLogins = make(map[string]time.Time)
	}
	m.lastLogins[id] = ts
	return nil
}

func testAuthService(users map[string]models.User) *AuthService {
	return NewAuthService(&mockAuthRepo{users: users}, validator.New(), zap.NewNop(), AuthConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "asset-api",
	})
}

func hashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestLoginAndValidate(t *testing.T) {
	schoolID := "school-1"
	svc := testAuthService(map[string]models.User{
		"u1": {ID: "u1", Email: "head@school.rw", PasswordHash: hashPassword(t, "secret123"), Role: models.RoleSchool, SchoolID: &schoolID, Active: true},
	})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "head@school.rw", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, models.RoleSchool, resp.User.Role)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	require.NotNil(t, claims.SchoolID)
	assert.Equal(t, "school-1", *claims.SchoolID)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := testAuthService(map[string]models.User{
		"u1": {ID: "u1", Email: "head@school.rw", PasswordHash: hashPassword(t, "secret123"), Role: models.RoleSchool, Active: true},
	})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "head@school.rw", Password: "wrong"})
	require.Error(t, err)
}

func TestLoginInactiveAccount(t *testing.T) {
	svc := testAuthService(map[string]models.User{
		"u1": {ID: "u1", Email: "head@school.rw", PasswordHash: hashPassword(t, "secret123"), Role: models.RoleSchool, Active: false},
	})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "head@school.rw", Password: "secret123"})
	require.Error(t, err)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc := testAuthService(map[string]models.User{
		"u1": {ID: "u1", Email: "admin@rtb.rw", PasswordHash: hashPassword(t, "secret123"), Role: models.RoleAdmin, Active: true},
	})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@rtb.rw", Password: "secret123"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(resp.AccessToken))
	_, err = svc.ValidateToken(resp.AccessToken)
	require.Error(t, err)
}
