package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type mockAuthUserRepository struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	lastLogin     string
}

func (m *mockAuthUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLogin = id
	return nil
}

func (m *mockAuthUserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthUserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.refreshTokens[token]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, t := range m.refreshTokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func authFixture(t *testing.T) (*mockAuthUserRepository, *AuthService) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &mockAuthUserRepository{
		users: map[string]*models.User{
			"user-1": {
				ID: "user-1", Email: "student@example.com", FullName: "Ada Student",
				PasswordHash: string(hash), Role: models.RoleStudent, Active: true,
			},
		},
		refreshTokens: make(map[string]*models.RefreshToken),
	}
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "learnpath-test",
	})
	return repo, svc
}

func TestAuthServiceLogin(t *testing.T) {
	repo, svc := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, "user-1", repo.lastLogin)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	_, svc := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "wrong"})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)

	// Unknown accounts fail the same way as bad passwords.
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "wrong"})
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	repo, svc := authFixture(t)
	repo.users["user-1"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceRefreshTokenRotation(t *testing.T) {
	repo, svc := authFixture(t)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	// The used token cannot be replayed.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceRefreshTokenExpired(t *testing.T) {
	repo, svc := authFixture(t)
	repo.refreshTokens["stale"] = &models.RefreshToken{
		ID: "tok-1", UserID: "user-1", Token: "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceLogout(t *testing.T) {
	repo, svc := authFixture(t)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	// A different user cannot revoke someone else's session.
	err = svc.Logout(context.Background(), "user-2", login.RefreshToken)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	require.NoError(t, svc.Logout(context.Background(), "user-1", login.RefreshToken))
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
}

func TestAuthServiceValidateTokenRejectsTampered(t *testing.T) {
	_, svc := authFixture(t)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}
