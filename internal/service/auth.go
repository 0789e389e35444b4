package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/repository"
	"github.com/poolify/poolify/internal/utils"
	"github.com/poolify/poolify/middleware/jwt"
)

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=64"`
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Hostel   string `json:"hostel" binding:"max=255"`
	Phone    string `json:"phone" binding:"max=32"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by register, login and refresh.
type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
	User      *model.User `json:"user,omitempty"`
}

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// IAuthService is the access gate.
type IAuthService interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	Refresh(ctx context.Context, token string) (*AuthResponse, error)
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// AuthService implements the IAuthService interface
type AuthService struct {
	userRepo     repository.IUserRepository
	tokenManager *jwt.TokenManager
	clock        clock.Clock
}

// NewAuthService creates a new IAuthService instance
func NewAuthService(userRepo repository.IUserRepository, tokenManager *jwt.TokenManager, clk clock.Clock) IAuthService {
	return &AuthService{
		userRepo:     userRepo,
		tokenManager: tokenManager,
		clock:        clk,
	}
}

// Register creates a profile with zero counters and signs the user in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	if !utils.ValidateEmail(email) {
		return nil, validationError("invalid email address")
	}
	if !utils.ValidatePassword(req.Password) {
		return nil, validationError("password must be between 8 and 64 characters")
	}
	if name == "" {
		return nil, validationError("name is required")
	}

	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Hostel:       strings.TrimSpace(req.Hostel),
		Phone:        strings.TrimSpace(req.Phone),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.issue(user)
}

// Login verifies credentials and returns a fresh token.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Refresh reissues a token inside its refresh window.
func (s *AuthService) Refresh(ctx context.Context, token string) (*AuthResponse, error) {
	fresh, err := s.tokenManager.RefreshToken(token)
	if err != nil {
		return nil, NewError(ErrUnauthenticated, err.Error())
	}
	return &AuthResponse{Token: fresh, ExpiresIn: int64(s.tokenManager.ExpiresIn().Seconds())}, nil
}

// Authenticate resolves a bearer token to an identity. Missing, malformed,
// expired and not-yet-valid tokens are all ErrUnauthenticated.
func (s *AuthService) Authenticate(_ context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokenManager.ParseToken(token)
	if err != nil {
		return nil, NewError(ErrUnauthenticated, err.Error())
	}
	return &Identity{UserID: claims.UserID, Name: claims.Name, Email: claims.Email}, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResponse, error) {
	token, err := s.tokenManager.GenerateToken(user.ID, user.Name, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResponse{
		Token:     token,
		ExpiresIn: int64(s.tokenManager.ExpiresIn().Seconds()),
		User:      user,
	}, nil
}
