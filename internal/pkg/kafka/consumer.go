package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/poolify/poolify/config"
	logger "github.com/poolify/poolify/middleware/log"
)

// ErrorHeader carries the processing error on dead-lettered messages.
const ErrorHeader = "x-error"

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer reads topics as a member of a consumer group. Messages whose
// handler keeps failing are forwarded to the DLQ topic and committed.
type Consumer struct {
	group   sarama.ConsumerGroup
	config  *config.KafkaConfig
	handler MessageHandler
	dlq     *Producer
	topics  []string
	logger  *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, log *logger.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_6_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true
	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second
	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond
	sc.Metadata.Timeout = 10 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	dlq, err := NewProducer(cfg)
	if err != nil {
		_ = group.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}
	return newConsumer(group, dlq, cfg, topics, handler, log), nil
}

func newConsumer(group sarama.ConsumerGroup, dlq *Producer, cfg *config.KafkaConfig, topics []string, handler MessageHandler, log *logger.Logger) *Consumer {
	return &Consumer{
		group:   group,
		config:  cfg,
		handler: handler,
		dlq:     dlq,
		topics:  topics,
		logger:  log.Named("kafka_consumer"),
	}
}

// Run consumes until ctx is cancelled, rejoining the group after every
// rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	defer c.wg.Done()

	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("consumer group error", zap.Error(err))
		}
	}()

	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("consume failed", zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Stop cancels Run and releases the group and the DLQ producer.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	if err := c.dlq.Close(); err != nil {
		return fmt.Errorf("failed to close DLQ producer: %w", err)
	}
	return nil
}

// process runs the handler with retries and dead-letters the message when
// they are exhausted. It reports whether the message may be committed.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	err := c.processWithRetry(ctx, msg)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if dlqErr := c.sendToDLQ(ctx, msg, err); dlqErr != nil {
		c.logger.Error("failed to dead-letter message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(dlqErr))
	}
	return true
}

func (c *Consumer) processWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	maxRetries := c.config.Consumer.MaxRetries
	backoff := time.Duration(c.config.Consumer.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.handler(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxRetries {
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Consumer) sendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	_, _, err := c.dlq.Produce(ctx, c.config.Topics.DLQ, msg.Key, msg.Value,
		sarama.RecordHeader{Key: []byte(ErrorHeader), Value: []byte(cause.Error())})
	if err != nil {
		return err
	}
	c.logger.Warn("message dead-lettered",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))
	return nil
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if h.consumer.process(session.Context(), msg) {
				session.MarkMessage(msg, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
