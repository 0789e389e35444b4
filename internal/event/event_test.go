package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolify/poolify/config"
	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/pkg/kafka"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/internal/repository"
	"github.com/poolify/poolify/internal/service"
	"github.com/poolify/poolify/internal/storage"
	"github.com/poolify/poolify/internal/utils"
	logger "github.com/poolify/poolify/middleware/log"
)

var at = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeChat struct {
	service.IChatService
	mu    sync.Mutex
	posts map[string][]string
	err   error
}

func (f *fakeChat) PostSystemMessage(_ context.Context, poolID, text string) (*model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.posts == nil {
		f.posts = map[string][]string{}
	}
	f.posts[poolID] = append(f.posts[poolID], text)
	return &model.ChatMessage{PoolID: poolID, Text: text}, nil
}

func (f *fakeChat) texts(poolID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts[poolID]...)
}

func TestText(t *testing.T) {
	tests := []struct {
		event model.PoolEvent
		want  string
	}{
		{model.PoolEvent{Type: model.EventPoolCreated, ActorName: "Asha"}, "Asha created the pool"},
		{model.PoolEvent{Type: model.EventPoolJoined, ActorName: "Ravi"}, "Ravi joined the pool"},
		{model.PoolEvent{Type: model.EventPoolLeft}, "A member left the pool"},
		{model.PoolEvent{Type: model.EventPoolCompleted}, "The order has been placed. Pool completed!"},
		{model.PoolEvent{Type: model.EventPoolExpired}, "This pool has expired"},
		{model.PoolEvent{Type: "pool.renamed"}, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.event.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.event))
		})
	}
}

func TestAnnouncer_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("posts system message", func(t *testing.T) {
		chat := &fakeChat{}
		a := NewAnnouncer(chat, metrics.New(), logger.NewNop())
		require.NoError(t, a.Handle(ctx, model.PoolEvent{Type: model.EventPoolJoined, PoolID: "p1", ActorName: "Ravi"}))
		assert.Equal(t, []string{"Ravi joined the pool"}, chat.texts("p1"))
	})

	t.Run("missing pool is ignored", func(t *testing.T) {
		a := NewAnnouncer(&fakeChat{err: service.ErrPoolNotFound}, nil, logger.NewNop())
		assert.NoError(t, a.Handle(ctx, model.PoolEvent{Type: model.EventPoolExpired, PoolID: "gone"}))
	})

	t.Run("other failures surface", func(t *testing.T) {
		a := NewAnnouncer(&fakeChat{err: errors.New("db down")}, nil, logger.NewNop())
		assert.Error(t, a.Handle(ctx, model.PoolEvent{Type: model.EventPoolExpired, PoolID: "p1"}))
	})
}

func TestDecode(t *testing.T) {
	e := model.PoolEvent{Type: model.EventPoolLeft, PoolID: "p1", UserID: "u1", At: at}
	b, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = Decode([]byte("not json"))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"type":"pool.left"}`))
	assert.Error(t, err)

	a := NewAnnouncer(&fakeChat{}, nil, logger.NewNop())
	assert.Error(t, a.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{}")}))
}

func TestKafkaPublisher(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, err := m.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "p1" || m.Topic != "pool.events" {
			return errors.New("unexpected key or topic")
		}
		value, err := m.Value.Encode()
		if err != nil {
			return err
		}
		e, err := Decode(value)
		if err != nil {
			return err
		}
		if e.Type != model.EventPoolCompleted {
			return errors.New("unexpected event type")
		}
		return nil
	})
	producer := kafka.NewProducerFrom(sp, &config.KafkaConfig{})
	defer producer.Close()

	pub := NewKafkaPublisher(producer, "pool.events", metrics.New())
	require.NoError(t, pub.Publish(context.Background(), model.PoolEvent{Type: model.EventPoolCompleted, PoolID: "p1", At: at}))
}

func TestInlinePublisher_AnnouncesThroughChat(t *testing.T) {
	db, err := storage.InitSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() { _ = storage.Close(db) })

	store := repository.NewStore(db)
	clk := clock.NewFake(at)
	log := logger.NewNop()
	chat := service.NewChatService(store, clk, &seqIDs{}, nil, service.ChatOptions{PageSize: 50}, log)

	workers := utils.NewWorkerPool(2, 16, log)
	workers.Start()
	pub := NewInlinePublisher(workers, NewAnnouncer(chat, nil, log), nil)
	pools := service.NewPoolService(store, clk, nil, pub, service.DefaultPoolOptions(), log)

	ctx := context.Background()
	asha := newUser(t, store, "Asha")
	ravi := newUser(t, store, "Ravi")
	p, err := pools.CreatePool(ctx, asha.ID, &service.CreatePoolRequest{Platform: "zepto", Items: []string{"milk"}})
	require.NoError(t, err)
	require.NoError(t, pools.JoinPool(ctx, p.ID, ravi.ID))
	require.NoError(t, workers.Stop(ctx))

	msgs, err := chat.ListMessages(ctx, p.ID, 0, 0)
	require.NoError(t, err)
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		assert.Equal(t, model.MessageKindSystem, m.Kind)
		texts = append(texts, m.Text)
	}
	assert.ElementsMatch(t, []string{"Asha created the pool", "Ravi joined the pool"}, texts)
}

type seqIDs struct {
	mu sync.Mutex
	n  int64
}

func (s *seqIDs) NextID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n, nil
}

func newUser(t *testing.T, store *repository.Store, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        name + "@campus.edu",
		PasswordHash: "x",
		Name:         name,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	require.NoError(t, store.Users.Create(context.Background(), u))
	return u
}
