package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/repository"
	logger "github.com/poolify/poolify/middleware/log"
)

const (
	anonymousName   = "Anonymous"
	unknownLocation = "Unknown"
)

// CreatePoolRequest represents a request to open a pool. Zero TimeLimit and
// MaxUsers take the configured defaults.
type CreatePoolRequest struct {
	Platform  string   `json:"platform" binding:"required,platform"`
	Items     []string `json:"items" binding:"required,min=1,dive,required"`
	TimeLimit int      `json:"timeLimit" binding:"omitempty,min=1,max=1440"`
	MaxUsers  int      `json:"maxUsers" binding:"omitempty,min=1,max=50"`
	Notes     string   `json:"notes" binding:"max=1000"`
	Location  string   `json:"location" binding:"max=255"`
}

// MemberSummary is the public view of a pool member.
type MemberSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hostel    string    `json:"hostel"`
	IsOnline  bool      `json:"isOnline"`
	IsCreator bool      `json:"isCreator"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// PoolDetail is a pool together with its member summaries.
type PoolDetail struct {
	*model.Pool
	Members []MemberSummary `json:"members"`
}

// IPoolService owns pool lifecycle and membership.
type IPoolService interface {
	CreatePool(ctx context.Context, creatorID string, req *CreatePoolRequest) (*model.Pool, error)
	GetPool(ctx context.Context, poolID string) (*PoolDetail, error)
	ListActive(ctx context.Context, limit int) ([]*model.Pool, error)
	JoinPool(ctx context.Context, poolID, userID string) error
	LeavePool(ctx context.Context, poolID, userID string) error
	CompletePool(ctx context.Context, poolID, requesterID string) error
	ExpireDuePools(ctx context.Context, now time.Time) (int, error)
}

type PoolService struct {
	store    *repository.Store
	clock    clock.Clock
	presence PresenceChecker
	events   EventPublisher
	opts     PoolOptions
	logger   *logger.Logger
}

func NewPoolService(
	store *repository.Store,
	clk clock.Clock,
	presence PresenceChecker,
	events EventPublisher,
	opts PoolOptions,
	log *logger.Logger,
) IPoolService {
	if events == nil {
		events = NopPublisher()
	}
	return &PoolService{
		store:    store,
		clock:    clk,
		presence: presence,
		events:   events,
		opts:     opts,
		logger:   log.Named("pool"),
	}
}

func (s *PoolService) normalize(req *CreatePoolRequest) (*CreatePoolRequest, error) {
	if req == nil {
		return nil, validationError("request body is required")
	}
	out := *req
	out.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if out.Platform == "" {
		return nil, validationError("platform is required")
	}
	if !model.IsPlatform(out.Platform) {
		return nil, validationError("unknown platform %q", req.Platform)
	}
	if len(req.Items) == 0 {
		return nil, validationError("items must not be empty")
	}
	out.Items = make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, validationError("items must be non-empty strings")
		}
		out.Items = append(out.Items, item)
	}
	if req.TimeLimit < 0 {
		return nil, validationError("timeLimit must be positive")
	}
	if req.TimeLimit == 0 {
		out.TimeLimit = s.opts.DefaultTimeLimit
	}
	if req.MaxUsers < 0 {
		return nil, validationError("maxUsers must be positive")
	}
	if req.MaxUsers == 0 {
		out.MaxUsers = s.opts.DefaultMaxUsers
	}
	out.Notes = strings.TrimSpace(req.Notes)
	out.Location = strings.TrimSpace(req.Location)
	return &out, nil
}

// CreatePool opens a pool with the creator as its first member and credits
// the creator's stats in the same transaction.
func (s *PoolService) CreatePool(ctx context.Context, creatorID string, req *CreatePoolRequest) (*model.Pool, error) {
	in, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	saved := s.opts.Savings.OnCreate(in.MaxUsers)
	pool := &model.Pool{
		ID:            uuid.New().String(),
		Platform:      in.Platform,
		Items:         in.Items,
		TimeLimit:     in.TimeLimit,
		MaxUsers:      in.MaxUsers,
		Notes:         in.Notes,
		Location:      in.Location,
		CreatedBy:     creatorID,
		MemberCount:   1,
		Status:        model.PoolStatusActive,
		EstimatedSave: saved,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(in.TimeLimit) * time.Minute),
		UpdatedAt:     now,
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		creator, err := tx.Users.FindByID(ctx, creatorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to find creator: %w", err)
		}
		pool.CreatorName = displayName(creator)
		pool.CreatorHostel = creator.Hostel
		if pool.Location == "" {
			pool.Location = creator.Hostel
		}
		if pool.Location == "" {
			pool.Location = unknownLocation
		}

		if err := tx.Pools.Create(ctx, pool); err != nil {
			return fmt.Errorf("failed to create pool: %w", err)
		}
		if err := tx.Pools.AddMember(ctx, &model.PoolMember{PoolID: pool.ID, UserID: creatorID, JoinedAt: now}); err != nil {
			return fmt.Errorf("failed to add creator to pool: %w", err)
		}
		return recordPoolCreated(ctx, tx, creatorID, saved, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "pool created",
		zap.String("pool_id", pool.ID),
		zap.String("platform", pool.Platform),
		zap.Int("max_users", pool.MaxUsers))
	publish(ctx, s.events, s.logger, model.PoolEvent{
		Type: model.EventPoolCreated, PoolID: pool.ID, UserID: creatorID, ActorName: pool.CreatorName, At: now,
	})
	return pool, nil
}

// GetPool returns the pool with its members and their presence.
func (s *PoolService) GetPool(ctx context.Context, poolID string) (*PoolDetail, error) {
	pool, err := s.store.Pools.FindByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to find pool: %w", err)
	}

	members, err := s.store.Pools.GetMembers(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool members: %w", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	users, err := s.store.Users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load member profiles: %w", err)
	}

	online := map[string]bool{}
	if s.presence != nil && len(ids) > 0 {
		// Presence is advisory; a cache outage shows everyone offline.
		if online, err = s.presence.OnlineUsers(ctx, ids); err != nil {
			s.logger.WarnContext(ctx, "presence lookup failed", zap.Error(err))
			online = map[string]bool{}
		}
	}

	summaries := make([]MemberSummary, 0, len(members))
	for _, m := range members {
		u, ok := users[m.UserID]
		if !ok {
			continue
		}
		summaries = append(summaries, MemberSummary{
			ID:        u.ID,
			Name:      displayName(u),
			Hostel:    u.Hostel,
			IsOnline:  online[u.ID],
			IsCreator: u.ID == pool.CreatedBy,
			JoinedAt:  m.JoinedAt,
		})
	}

	return &PoolDetail{Pool: pool, Members: summaries}, nil
}

// ListActive returns active, unexpired pools ordered by created_at DESC then
// id, capped at the configured page size.
func (s *PoolService) ListActive(ctx context.Context, limit int) ([]*model.Pool, error) {
	pools, err := s.store.Pools.ListActive(ctx, s.clock.Now(), s.pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list active pools: %w", err)
	}
	return pools, nil
}

func (s *PoolService) pageSize(limit int) int {
	if limit <= 0 || limit > s.opts.PageSize {
		return s.opts.PageSize
	}
	return limit
}

// JoinPool adds userID to the pool. Checks run under the pool's row lock in
// this order: not found, not active, expired, already member, full.
func (s *PoolService) JoinPool(ctx context.Context, poolID, userID string) error {
	var (
		joinedAt time.Time
		name     string
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		pool, err := tx.Pools.FindByIDForUpdate(ctx, poolID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPoolNotFound
			}
			return fmt.Errorf("failed to find pool: %w", err)
		}

		now := s.clock.Now()
		if pool.Status != model.PoolStatusActive {
			return ErrPoolNotActive
		}
		if pool.PastDeadline(now) {
			return ErrPoolExpired
		}
		member, err := tx.Pools.IsMember(ctx, poolID, userID)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if member {
			return ErrAlreadyMember
		}
		if pool.IsFull() {
			return ErrPoolFull
		}

		user, err := tx.Users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to find user: %w", err)
		}
		name = displayName(user)

		if err := tx.Pools.AddMember(ctx, &model.PoolMember{PoolID: poolID, UserID: userID, JoinedAt: now}); err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		saved := s.opts.Savings.OnJoin()
		err = tx.Pools.Update(ctx, poolID, map[string]any{
			"member_count":   gorm.Expr("member_count + ?", 1),
			"estimated_save": gorm.Expr("estimated_save + ?", saved),
			"updated_at":     now,
		})
		if err != nil {
			return fmt.Errorf("failed to update pool: %w", err)
		}
		joinedAt = now
		return recordPoolJoined(ctx, tx, userID, saved, now)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "pool joined", zap.String("pool_id", poolID), zap.String("user_id", userID))
	publish(ctx, s.events, s.logger, model.PoolEvent{
		Type: model.EventPoolJoined, PoolID: poolID, UserID: userID, ActorName: name, At: joinedAt,
	})
	return nil
}

// LeavePool removes userID from an active pool. Missing pools and
// non-members are answered by the configured LeavePolicy.
func (s *PoolService) LeavePool(ctx context.Context, poolID, userID string) error {
	var (
		left   bool
		leftAt time.Time
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		pool, err := tx.Pools.FindByIDForUpdate(ctx, poolID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return s.opts.Leave.missingPool()
			}
			return fmt.Errorf("failed to find pool: %w", err)
		}

		member, err := tx.Pools.IsMember(ctx, poolID, userID)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			return s.opts.Leave.notMember()
		}
		if pool.Status.Terminal() {
			return ErrPoolNotActive
		}
		if pool.CreatedBy == userID {
			return ErrCreatorCannotLeave
		}

		removed, err := tx.Pools.RemoveMember(ctx, poolID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		if !removed {
			return nil
		}
		now := s.clock.Now()
		err = tx.Pools.Update(ctx, poolID, map[string]any{
			"member_count": gorm.Expr("member_count - ?", 1),
			"updated_at":   now,
		})
		if err != nil {
			return fmt.Errorf("failed to update pool: %w", err)
		}
		left, leftAt = true, now
		return nil
	})
	if err != nil || !left {
		return err
	}

	s.logger.InfoContext(ctx, "pool left", zap.String("pool_id", poolID), zap.String("user_id", userID))
	publish(ctx, s.events, s.logger, model.PoolEvent{
		Type: model.EventPoolLeft, PoolID: poolID, UserID: userID, At: leftAt,
	})
	return nil
}

// CompletePool closes the pool and credits every member's completed count in
// one statement within the same transaction.
func (s *PoolService) CompletePool(ctx context.Context, poolID, requesterID string) error {
	var (
		completedAt time.Time
		creatorName string
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		pool, err := tx.Pools.FindByIDForUpdate(ctx, poolID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPoolNotFound
			}
			return fmt.Errorf("failed to find pool: %w", err)
		}
		if pool.CreatedBy != requesterID {
			return ErrNotCreator
		}
		if pool.Status != model.PoolStatusActive {
			return ErrPoolNotActive
		}

		memberIDs, err := tx.Pools.GetMemberIDs(ctx, poolID)
		if err != nil {
			return fmt.Errorf("failed to load members: %w", err)
		}

		now := s.clock.Now()
		err = tx.Pools.Update(ctx, poolID, map[string]any{
			"status":       model.PoolStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return fmt.Errorf("failed to complete pool: %w", err)
		}
		completedAt, creatorName = now, pool.CreatorName
		return recordPoolCompleted(ctx, tx, memberIDs, now)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "pool completed", zap.String("pool_id", poolID))
	publish(ctx, s.events, s.logger, model.PoolEvent{
		Type: model.EventPoolCompleted, PoolID: poolID, UserID: requesterID, ActorName: creatorName, At: completedAt,
	})
	return nil
}

// ExpireDuePools transitions active pools whose deadline is before now.
// Re-running it on already expired pools changes nothing.
func (s *PoolService) ExpireDuePools(ctx context.Context, now time.Time) (int, error) {
	var expired []string
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		expired, err = tx.Pools.ExpireDue(ctx, now, s.opts.ExpireBatch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire pools: %w", err)
	}

	for _, id := range expired {
		publish(ctx, s.events, s.logger, model.PoolEvent{Type: model.EventPoolExpired, PoolID: id, At: now})
	}
	return len(expired), nil
}

func displayName(u *model.User) string {
	if u == nil || strings.TrimSpace(u.Name) == "" {
		return anonymousName
	}
	return u.Name
}
