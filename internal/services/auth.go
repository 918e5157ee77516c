package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/middleware"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

const bcryptCost = 12

type AuthService struct {
	store repository.Store
	jwt   *middleware.JWTAuth
	log   *logger.Logger
}

func NewAuthService(store repository.Store, jwt *middleware.JWTAuth, log *logger.Logger) *AuthService {
	if log == nil {
		log = logger.Nop()
	}
	return &AuthService{store: store, jwt: jwt, log: log}
}

// Login checks a username/password pair and issues an access token. The
// returned user tells the client which pipeline variant and role to use.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	fieldErrors := make(map[string]string)
	if strings.TrimSpace(req.Username) == "" {
		fieldErrors["username"] = "Username is required"
	}
	if req.Password == "" {
		fieldErrors["password"] = "Password is required"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &UnauthorizedError{Message: "Invalid username or password"}
		}
		return nil, storeErr("look up user", err)
	}

	// Users created implicitly by a write have no hash and cannot log in.
	if user.PasswordHash == "" {
		return nil, &UnauthorizedError{Message: "Invalid username or password"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{Message: "Invalid username or password"}
	}

	token, err := s.jwt.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	s.log.Info("User logged in", "user_id", user.Username, "role", user.Role)
	return &models.LoginResponse{
		Success:     true,
		User:        user,
		AccessToken: token,
		ExpiresIn:   int(s.jwt.TTL.Seconds()),
	}, nil
}

func HashPassword(pw string) (string, error) {
	if len(pw) < 4 {
		return "", fmt.Errorf("Password must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
