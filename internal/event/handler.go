package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
)

// Announcer turns pool events into system messages in the pool chat.
type Announcer struct {
	chat    service.IChatService
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewAnnouncer(chat service.IChatService, m *metrics.Metrics, log *logger.Logger) *Announcer {
	return &Announcer{chat: chat, metrics: m, logger: log.Named("announcer")}
}

// Text is the chat line for an event, or "" when the event is not announced.
func Text(e model.PoolEvent) string {
	name := e.ActorName
	if name == "" {
		name = "A member"
	}
	switch e.Type {
	case model.EventPoolCreated:
		return fmt.Sprintf("%s created the pool", name)
	case model.EventPoolJoined:
		return fmt.Sprintf("%s joined the pool", name)
	case model.EventPoolLeft:
		return fmt.Sprintf("%s left the pool", name)
	case model.EventPoolCompleted:
		return "The order has been placed. Pool completed!"
	case model.EventPoolExpired:
		return "This pool has expired"
	default:
		return ""
	}
}

// Handle posts the announcement. A pool deleted in the meantime is not an
// error.
func (a *Announcer) Handle(ctx context.Context, e model.PoolEvent) error {
	text := Text(e)
	if text == "" {
		return nil
	}
	_, err := a.chat.PostSystemMessage(ctx, e.PoolID, text)
	if errors.Is(err, service.ErrPoolNotFound) {
		err = nil
	}
	a.metrics.ObserveHandled(string(e.Type), err)
	if err != nil {
		return fmt.Errorf("failed to announce %s: %w", e.Type, err)
	}
	a.logger.DebugContext(ctx, "event announced", zap.String("type", string(e.Type)), zap.String("pool_id", e.PoolID))
	return nil
}

// HandleMessage adapts Handle to the Kafka consumer. Undecodable payloads
// are returned as errors so they end up in the DLQ.
func (a *Announcer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	e, err := Decode(msg.Value)
	if err != nil {
		return err
	}
	return a.Handle(ctx, e)
}

func Encode(e model.PoolEvent) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(b []byte) (model.PoolEvent, error) {
	var e model.PoolEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("failed to decode pool event: %w", err)
	}
	if e.Type == "" || e.PoolID == "" {
		return e, errors.New("pool event without type or pool id")
	}
	return e, nil
}
