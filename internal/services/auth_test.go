package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/middleware"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemStore()
	jwt := middleware.NewJWTAuth("test-secret", time.Hour)
	svc := NewAuthService(store, jwt, nil)

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, &models.User{
		Username: "Nicole", PasswordHash: hash, Role: models.RoleTeacher,
	}))
	// Users first seen through a write have no password.
	require.NoError(t, store.CreateUser(ctx, &models.User{Username: "walkin", Role: models.RoleStudent}))

	t.Run("success", func(t *testing.T) {
		resp, err := svc.Login(ctx, models.LoginRequest{Username: " Nicole ", Password: "hunter2"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 3600, resp.ExpiresIn)
		assert.Equal(t, models.RoleTeacher, resp.User.Role)

		claims, err := jwt.ParseToken(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "Nicole", claims.Username)
		assert.Equal(t, resp.User.ID, claims.UserID)
	})

	t.Run("rejections", func(t *testing.T) {
		for _, req := range []models.LoginRequest{
			{Username: "Nicole", Password: "wrong"},
			{Username: "ghost", Password: "hunter2"},
			{Username: "walkin", Password: "anything"},
		} {
			_, err := svc.Login(ctx, req)
			var uErr *UnauthorizedError
			require.ErrorAs(t, err, &uErr, req.Username)
			assert.Equal(t, "Invalid username or password", uErr.Message)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Login(ctx, models.LoginRequest{})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Fields, "username")
		assert.Contains(t, vErr.Fields, "password")
	})
}

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("abc"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}
