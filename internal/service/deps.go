package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/poolify/poolify/internal/model"
	logger "github.com/poolify/poolify/middleware/log"
)

// EventPublisher delivers pool lifecycle events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, event model.PoolEvent) error
}

// PresenceChecker reports which users were recently seen.
type PresenceChecker interface {
	OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// SequenceGenerator hands out per-pool increasing chat sequence numbers.
type SequenceGenerator interface {
	NextSeq(ctx context.Context, poolID string) (int64, error)
}

// IDGenerator produces unique chat message ids.
type IDGenerator interface {
	NextID() (int64, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.PoolEvent) error { return nil }

// NopPublisher discards events.
func NopPublisher() EventPublisher { return nopPublisher{} }

// publish is best-effort: the transition has already committed.
func publish(ctx context.Context, pub EventPublisher, log *logger.Logger, event model.PoolEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		log.WarnContext(ctx, "failed to publish pool event",
			zap.String("type", string(event.Type)),
			zap.String("pool_id", event.PoolID),
			zap.Error(err))
	}
}
