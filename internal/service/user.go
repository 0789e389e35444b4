package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/repository"
	"github.com/poolify/poolify/internal/utils"
)

// UpdateProfileRequest carries the editable profile fields. Empty fields are
// left unchanged.
type UpdateProfileRequest struct {
	Name   string `json:"name" binding:"max=100"`
	Hostel string `json:"hostel" binding:"max=255"`
	Phone  string `json:"phone" binding:"max=32"`
}

// Profile is a user as shown to its owner. The email is omitted.
type Profile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Hostel         string `json:"hostel"`
	Phone          string `json:"phone"`
	PoolsCreated   int    `json:"poolsCreated"`
	PoolsJoined    int    `json:"poolsJoined"`
	PoolsCompleted int    `json:"poolsCompleted"`
	MoneySaved     int    `json:"moneySaved"`
}

type IUserService interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) error
}

type UserService struct {
	userRepo repository.IUserRepository
	clock    clock.Clock
}

func NewUserService(userRepo repository.IUserRepository, clk clock.Clock) IUserService {
	return &UserService{userRepo: userRepo, clock: clk}
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return toProfile(u), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) error {
	updates := map[string]any{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if hostel := strings.TrimSpace(req.Hostel); hostel != "" {
		updates["hostel"] = hostel
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		if !utils.ValidatePhone(phone) {
			return validationError("invalid phone number")
		}
		updates["phone"] = phone
	}

	if _, err := s.GetProfile(ctx, userID); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = s.clock.Now()
	if err := s.userRepo.UpdateProfile(ctx, userID, updates); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

func toProfile(u *model.User) *Profile {
	return &Profile{
		ID:             u.ID,
		Name:           u.Name,
		Hostel:         u.Hostel,
		Phone:          u.Phone,
		PoolsCreated:   u.PoolsCreated,
		PoolsJoined:    u.PoolsJoined,
		PoolsCompleted: u.PoolsCompleted,
		MoneySaved:     u.MoneySaved,
	}
}
