package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
)

// IPoolRepository defines pool and membership persistence.
type IPoolRepository interface {
	Create(ctx context.Context, pool *model.Pool) error
	FindByID(ctx context.Context, id string) (*model.Pool, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.Pool, error)
	Update(ctx context.Context, id string, updates map[string]any) error

	AddMember(ctx context.Context, member *model.PoolMember) error
	RemoveMember(ctx context.Context, poolID, userID string) (bool, error)
	IsMember(ctx context.Context, poolID, userID string) (bool, error)
	GetMembers(ctx context.Context, poolID string) ([]*model.PoolMember, error)
	GetMemberIDs(ctx context.Context, poolID string) ([]string, error)

	ListActive(ctx context.Context, now time.Time, limit int) ([]*model.Pool, error)
	Search(ctx context.Context, now time.Time, keyword, platform string, limit int) ([]*model.Pool, error)
	ListJoinedActive(ctx context.Context, userID string, now time.Time, limit int) ([]*model.Pool, error)
	ListCreatedBy(ctx context.Context, userID string, limit int) ([]*model.Pool, error)
	CountActiveForMember(ctx context.Context, userID string) (int64, error)

	ExpireDue(ctx context.Context, now time.Time, batch int) ([]string, error)
}

type PoolRepository struct {
	db *gorm.DB
}

func NewPoolRepository(db *gorm.DB) IPoolRepository {
	return &PoolRepository{db: db}
}

// Create inserts a pool row.
func (r *PoolRepository) Create(ctx context.Context, pool *model.Pool) error {
	return r.db.WithContext(ctx).Create(pool).Error
}

// FindByID returns gorm.ErrRecordNotFound when the pool is absent.
func (r *PoolRepository) FindByID(ctx context.Context, id string) (*model.Pool, error) {
	var pool model.Pool
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pool).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

// FindByIDForUpdate loads the pool and holds its row lock until the
// surrounding transaction ends.
func (r *PoolRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Pool, error) {
	var pool model.Pool
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&pool).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *PoolRepository) Update(ctx context.Context, id string, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.Pool{}).Where("id = ?", id).Updates(updates).Error
}

func (r *PoolRepository) AddMember(ctx context.Context, member *model.PoolMember) error {
	return r.db.WithContext(ctx).Create(member).Error
}

// RemoveMember reports whether a membership row was deleted.
func (r *PoolRepository) RemoveMember(ctx context.Context, poolID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("pool_id = ? AND user_id = ?", poolID, userID).
		Delete(&model.PoolMember{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PoolRepository) IsMember(ctx context.Context, poolID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PoolMember{}).
		Where("pool_id = ? AND user_id = ?", poolID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetMembers returns members in join order.
func (r *PoolRepository) GetMembers(ctx context.Context, poolID string) ([]*model.PoolMember, error) {
	var members []*model.PoolMember
	err := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("joined_at ASC, id ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *PoolRepository) GetMemberIDs(ctx context.Context, poolID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.PoolMember{}).
		Where("pool_id = ?", poolID).
		Order("joined_at ASC, id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PoolRepository) activeAt(ctx context.Context, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.Pool{}).
		Where("pools.status = ? AND pools.expires_at > ?", model.PoolStatusActive, now)
}

// ListActive returns open pools newest first; ties break on id.
func (r *PoolRepository) ListActive(ctx context.Context, now time.Time, limit int) ([]*model.Pool, error) {
	var pools []*model.Pool
	err := r.activeAt(ctx, now).
		Order("pools.created_at DESC, pools.id ASC").
		Limit(limit).
		Find(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// Search matches keyword case-insensitively against items and notes. An empty
// platform or "all" matches every platform.
func (r *PoolRepository) Search(ctx context.Context, now time.Time, keyword, platform string, limit int) ([]*model.Pool, error) {
	q := r.activeAt(ctx, now)
	if platform != "" && platform != "all" {
		q = q.Where("pools.platform = ?", platform)
	}
	if kw := strings.TrimSpace(keyword); kw != "" {
		pattern := "%" + escapeLike(strings.ToLower(kw)) + "%"
		q = q.Where(`(LOWER(pools.items) LIKE ? ESCAPE '\' OR LOWER(pools.notes) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	var pools []*model.Pool
	err := q.Order("pools.created_at DESC, pools.id ASC").Limit(limit).Find(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

func (r *PoolRepository) ListJoinedActive(ctx context.Context, userID string, now time.Time, limit int) ([]*model.Pool, error) {
	var pools []*model.Pool
	err := r.activeAt(ctx, now).
		Joins("JOIN pool_members ON pool_members.pool_id = pools.id").
		Where("pool_members.user_id = ?", userID).
		Order("pools.created_at DESC, pools.id ASC").
		Limit(limit).
		Find(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

func (r *PoolRepository) ListCreatedBy(ctx context.Context, userID string, limit int) ([]*model.Pool, error) {
	var pools []*model.Pool
	err := r.db.WithContext(ctx).
		Where("created_by = ?", userID).
		Order("created_at DESC, id ASC").
		Limit(limit).
		Find(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// CountActiveForMember counts active pools the user belongs to, regardless
// of whether the expiry sweep has caught up yet.
func (r *PoolRepository) CountActiveForMember(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Pool{}).
		Joins("JOIN pool_members ON pool_members.pool_id = pools.id").
		Where("pool_members.user_id = ? AND pools.status = ?", userID, model.PoolStatusActive).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ExpireDue moves up to batch active pools whose deadline is before now to
// expired and returns their ids. It must run inside a transaction. The
// UPDATE is guarded by status so a pool completed concurrently is skipped.
func (r *PoolRepository) ExpireDue(ctx context.Context, now time.Time, batch int) ([]string, error) {
	var candidates []string
	err := forUpdate(r.db.WithContext(ctx), "SKIP LOCKED").
		Model(&model.Pool{}).
		Where("status = ? AND expires_at < ?", model.PoolStatusActive, now).
		Order("expires_at ASC, id ASC").
		Limit(batch).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	res := r.db.WithContext(ctx).
		Model(&model.Pool{}).
		Where("id IN ? AND status = ?", candidates, model.PoolStatusActive).
		Updates(map[string]any{
			"status":     model.PoolStatusExpired,
			"expired_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == int64(len(candidates)) {
		return candidates, nil
	}

	var expired []string
	err = r.db.WithContext(ctx).
		Model(&model.Pool{}).
		Where("id IN ? AND status = ? AND expired_at = ?", candidates, model.PoolStatusExpired, now).
		Pluck("id", &expired).Error
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
