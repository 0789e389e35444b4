package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/repository"
)

// NearbyQuery is accepted for compatibility; no distance filter is applied.
type NearbyQuery struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

type PoolScope string

const (
	ScopeJoined  PoolScope = "joined"
	ScopeCreated PoolScope = "created"
)

// DetailView is a pool with its members and first chat page.
type DetailView struct {
	*PoolDetail
	Messages []*model.ChatMessage `json:"messages"`
}

// IQueryService is the read side used by the HTTP layer.
type IQueryService interface {
	Nearby(ctx context.Context, q NearbyQuery) ([]*model.Pool, error)
	Search(ctx context.Context, keyword, platform string) ([]*model.Pool, error)
	MyPools(ctx context.Context, userID string, scope PoolScope) ([]*model.Pool, error)
	Detail(ctx context.Context, poolID string) (*DetailView, error)
}

type QueryService struct {
	store    *repository.Store
	pools    IPoolService
	chat     IChatService
	clock    clock.Clock
	pageSize int
}

func NewQueryService(store *repository.Store, pools IPoolService, chat IChatService, clk clock.Clock, pageSize int) IQueryService {
	if pageSize <= 0 {
		pageSize = DefaultPoolOptions().PageSize
	}
	return &QueryService{store: store, pools: pools, chat: chat, clock: clk, pageSize: pageSize}
}

// Nearby ignores the coordinates and returns the active listing.
func (s *QueryService) Nearby(ctx context.Context, _ NearbyQuery) ([]*model.Pool, error) {
	return s.pools.ListActive(ctx, s.pageSize)
}

// Search filters active pools by keyword and platform. An empty keyword with
// platform "all" is the plain active listing.
func (s *QueryService) Search(ctx context.Context, keyword, platform string) ([]*model.Pool, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform != "" && platform != "all" && !model.IsPlatform(platform) {
		return nil, validationError("unknown platform %q", platform)
	}
	if strings.TrimSpace(keyword) == "" && (platform == "" || platform == "all") {
		return s.pools.ListActive(ctx, s.pageSize)
	}
	pools, err := s.store.Pools.Search(ctx, s.clock.Now(), keyword, platform, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to search pools: %w", err)
	}
	return pools, nil
}

func (s *QueryService) MyPools(ctx context.Context, userID string, scope PoolScope) ([]*model.Pool, error) {
	var (
		pools []*model.Pool
		err   error
	)
	switch scope {
	case ScopeJoined, "":
		pools, err = s.store.Pools.ListJoinedActive(ctx, userID, s.clock.Now(), s.pageSize)
	case ScopeCreated:
		pools, err = s.store.Pools.ListCreatedBy(ctx, userID, s.pageSize)
	default:
		return nil, validationError("scope must be %q or %q", ScopeJoined, ScopeCreated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list user pools: %w", err)
	}
	return pools, nil
}

func (s *QueryService) Detail(ctx context.Context, poolID string) (*DetailView, error) {
	detail, err := s.pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.chat.ListMessages(ctx, poolID, 0, 0)
	if err != nil {
		return nil, err
	}
	return &DetailView{PoolDetail: detail, Messages: msgs}, nil
}
