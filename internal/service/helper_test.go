package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/repository"
	"github.com/poolify/poolify/internal/storage"
	logger "github.com/poolify/poolify/middleware/log"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) NextID() (int64, error) { return c.n.Add(1), nil }

type memorySeq struct {
	mu   sync.Mutex
	seqs map[string]int64
	err  error
}

func (m *memorySeq) NextSeq(_ context.Context, poolID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.seqs == nil {
		m.seqs = map[string]int64{}
	}
	m.seqs[poolID]++
	return m.seqs[poolID], nil
}

func (m *memorySeq) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// restart clears the error and every counter, like a store that lost its data.
func (m *memorySeq) restart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	m.seqs = nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PoolEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e model.PoolEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) types() []model.PoolEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PoolEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type staticPresence map[string]bool

func (p staticPresence) OnlineUsers(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = p[id]
	}
	return out, nil
}

type testEnv struct {
	store  *repository.Store
	clock  *clock.Fake
	events *recordingPublisher
	seqs   *memorySeq
	opts   PoolOptions
	pools  IPoolService
	chat   IChatService
	stats  IStatsService
	users  IUserService
	query  IQueryService
}

func newTestEnv(t *testing.T, mutate ...func(*PoolOptions)) *testEnv {
	t.Helper()
	db, err := storage.InitSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() { _ = storage.Close(db) })

	opts := DefaultPoolOptions()
	for _, m := range mutate {
		m(&opts)
	}

	env := &testEnv{
		store:  repository.NewStore(db),
		clock:  clock.NewFake(epoch),
		events: &recordingPublisher{},
		seqs:   &memorySeq{},
		opts:   opts,
	}
	log := logger.NewNop()
	env.pools = NewPoolService(env.store, env.clock, staticPresence{}, env.events, opts, log)
	env.chat = NewChatService(env.store, env.clock, &counterIDs{}, env.seqs, ChatOptions{PageSize: 50}, log)
	env.stats = NewStatsService(env.store)
	env.users = NewUserService(env.store.Users, env.clock)
	env.query = NewQueryService(env.store, env.pools, env.chat, env.clock, opts.PageSize)
	return env
}

func (e *testEnv) newUser(t *testing.T, name, hostel string) *model.User {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        fmt.Sprintf("%s-%s@campus.edu", name, uuid.NewString()[:8]),
		PasswordHash: "x",
		Name:         name,
		Hostel:       hostel,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	require.NoError(t, e.store.Users.Create(context.Background(), u))
	return u
}

func (e *testEnv) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := e.store.Users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) pool(t *testing.T, id string) *model.Pool {
	t.Helper()
	p, err := e.store.Pools.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) memberIDs(t *testing.T, poolID string) []string {
	t.Helper()
	ids, err := e.store.Pools.GetMemberIDs(context.Background(), poolID)
	require.NoError(t, err)
	return ids
}

func (e *testEnv) createPool(t *testing.T, creatorID string, timeLimit, maxUsers int) *model.Pool {
	t.Helper()
	p, err := e.pools.CreatePool(context.Background(), creatorID, &CreatePoolRequest{
		Platform:  model.PlatformBlinkit,
		Items:     []string{"milk", "bread"},
		TimeLimit: timeLimit,
		MaxUsers:  maxUsers,
	})
	require.NoError(t, err)
	return p
}

func nopLogger() *logger.Logger { return logger.NewNop() }
