package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
)

// CounterDelta is a set of increments applied to a user's counters.
type CounterDelta struct {
	PoolsCreated   int
	PoolsJoined    int
	PoolsCompleted int
	MoneySaved     int
}

// IUserRepository defines the interface for user data operations
type IUserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
	UpdateProfile(ctx context.Context, id string, updates map[string]any) error
	AddCounters(ctx context.Context, id string, delta CounterDelta, now time.Time) (bool, error)
	IncrementPoolsCompleted(ctx context.Context, ids []string, now time.Time) (int64, error)
}

// UserRepository implements IUserRepository interface
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new IUserRepository instance
func NewUserRepository(db *gorm.DB) IUserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user in the database
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID finds a user by ID
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail finds a user by email, compared case-insensitively
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIDs loads users keyed by id; missing ids are simply absent.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []*model.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// UpdateProfile updates editable profile columns
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates).Error
}

// AddCounters applies delta with column arithmetic so concurrent updates
// never lose increments. It reports whether the user row exists.
func (r *UserRepository) AddCounters(ctx context.Context, id string, delta CounterDelta, now time.Time) (bool, error) {
	updates := map[string]any{"updated_at": now}
	add := func(column string, n int) {
		if n != 0 {
			updates[column] = gorm.Expr(column+" + ?", n)
		}
	}
	add("pools_created", delta.PoolsCreated)
	add("pools_joined", delta.PoolsJoined)
	add("pools_completed", delta.PoolsCompleted)
	add("money_saved", delta.MoneySaved)

	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementPoolsCompleted bumps pools_completed for every id in one statement.
func (r *UserRepository) IncrementPoolsCompleted(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"pools_completed": gorm.Expr("pools_completed + ?", 1),
			"updated_at":      now,
		})
	return res.RowsAffected, res.Error
}
