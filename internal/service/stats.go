package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/repository"
)

// Stats is the per-user summary. ActivePools is computed at read time.
type Stats struct {
	PoolsCreated   int   `json:"poolsCreated"`
	PoolsJoined    int   `json:"poolsJoined"`
	PoolsCompleted int   `json:"poolsCompleted"`
	MoneySaved     int   `json:"moneySaved"`
	ActivePools    int64 `json:"activePools"`
}

type IStatsService interface {
	GetStats(ctx context.Context, userID string) (*Stats, error)
}

type StatsService struct {
	store *repository.Store
}

func NewStatsService(store *repository.Store) IStatsService {
	return &StatsService{store: store}
}

func (s *StatsService) GetStats(ctx context.Context, userID string) (*Stats, error) {
	user, err := s.store.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	active, err := s.store.Pools.CountActiveForMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active pools: %w", err)
	}

	return &Stats{
		PoolsCreated:   user.PoolsCreated,
		PoolsJoined:    user.PoolsJoined,
		PoolsCompleted: user.PoolsCompleted,
		MoneySaved:     user.MoneySaved,
		ActivePools:    active,
	}, nil
}

// The record* helpers run inside the pool store's transaction so counters
// commit or roll back together with the transition that caused them.

func recordPoolCreated(ctx context.Context, tx *repository.Store, userID string, saved int, now time.Time) error {
	return addCounters(ctx, tx, userID, repository.CounterDelta{PoolsCreated: 1, MoneySaved: saved}, now)
}

func recordPoolJoined(ctx context.Context, tx *repository.Store, userID string, saved int, now time.Time) error {
	return addCounters(ctx, tx, userID, repository.CounterDelta{PoolsJoined: 1, MoneySaved: saved}, now)
}

func recordPoolCompleted(ctx context.Context, tx *repository.Store, memberIDs []string, now time.Time) error {
	if _, err := tx.Users.IncrementPoolsCompleted(ctx, memberIDs, now); err != nil {
		return fmt.Errorf("failed to record pool completion: %w", err)
	}
	return nil
}

func addCounters(ctx context.Context, tx *repository.Store, userID string, delta repository.CounterDelta, now time.Time) error {
	ok, err := tx.Users.AddCounters(ctx, userID, delta, now)
	if err != nil {
		return fmt.Errorf("failed to update user stats: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}
