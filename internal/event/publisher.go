package event

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/kafka"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/internal/utils"
)

// KafkaPublisher writes events to the pool events topic keyed by pool id, so
// one pool's events stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	metrics  *metrics.Metrics
}

func NewKafkaPublisher(producer *kafka.Producer, topic string, m *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, metrics: m}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e model.PoolEvent) error {
	payload, err := Encode(e)
	if err != nil {
		return fmt.Errorf("failed to encode pool event: %w", err)
	}
	_, _, err = p.producer.Produce(ctx, p.topic, []byte(e.PoolID), payload)
	p.metrics.ObservePublish(string(e.Type), err)
	return err
}

// InlinePublisher hands events straight to the announcer on a worker pool.
// It is used when Kafka is disabled.
type InlinePublisher struct {
	pool      *utils.WorkerPool
	announcer *Announcer
	metrics   *metrics.Metrics
}

func NewInlinePublisher(pool *utils.WorkerPool, announcer *Announcer, m *metrics.Metrics) *InlinePublisher {
	return &InlinePublisher{pool: pool, announcer: announcer, metrics: m}
}

func (p *InlinePublisher) Publish(ctx context.Context, e model.PoolEvent) error {
	err := p.pool.Submit(ctx, func(jobCtx context.Context) {
		if err := p.announcer.Handle(jobCtx, e); err != nil {
			p.announcer.logger.WarnContext(jobCtx, "inline event handling failed", zap.Error(err))
		}
	})
	p.metrics.ObservePublish(string(e.Type), err)
	return err
}
