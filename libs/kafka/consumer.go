package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryLimit   int
}

const defaultRetryLimit = 3

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:      group,
		logger:     logger,
		retryLimit: defaultRetryLimit,
	}, nil
}

// WithDLQ routes poison messages to the dead-letter topic instead of
// blocking the partition on them forever.
func (c *Consumer) WithDLQ(producer Publisher, topic string) {
	c.dlqPublisher = producer
	c.dlqTopic = topic
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.retryLimit, 10*time.Minute),
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handler.HandleMessage(session.Context(), msg)
		if err == nil {
			session.MarkMessage(msg, "")
			if h.retryTracker != nil {
				h.retryTracker.reset(msg)
			}
			continue
		}

		var dlqErr *DLQError
		attempts := 1
		if !errors.As(err, &dlqErr) {
			h.logger.Error("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			if h.retryTracker != nil {
				attempts = h.retryTracker.record(msg)
				if attempts <= h.retryTracker.limit {
					// leave unmarked so the message is redelivered
					continue
				}
			} else {
				continue
			}
			dlqErr = &DLQError{Err: err, Reason: "retry_exhausted"}
		}

		if h.dlqPublisher == nil || h.dlqTopic == "" {
			h.logger.Error("dropping unprocessable message, no dlq configured", "topic", msg.Topic, "offset", msg.Offset, "error", dlqErr)
			session.MarkMessage(msg, "")
			continue
		}

		payload := BuildDLQPayload(msg, dlqErr, attempts)
		if _, _, pubErr := h.dlqPublisher.PublishJSON(session.Context(), h.dlqTopic, string(msg.Key), payload); pubErr != nil {
			h.logger.Error("dlq publish failed", "topic", msg.Topic, "offset", msg.Offset, "error", pubErr)
			continue
		}
		h.logger.Warn("message routed to dlq", "topic", msg.Topic, "offset", msg.Offset, "reason", dlqErr.Reason)
		session.MarkMessage(msg, "")
		if h.retryTracker != nil {
			h.retryTracker.reset(msg)
		}
	}
	return nil
}

// retryTracker counts redeliveries per message so transient handler
// failures get bounded retries before dead-lettering.
type retryTracker struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	entries map[string]retryEntry
}

type retryEntry struct {
	attempts int
	seen     time.Time
}

func newRetryTracker(limit int, ttl time.Duration) *retryTracker {
	if limit <= 0 {
		limit = defaultRetryLimit
	}
	return &retryTracker{
		limit:   limit,
		ttl:     ttl,
		entries: map[string]retryEntry{},
	}
}

func (t *retryTracker) record(msg *sarama.ConsumerMessage) int {
	key := retryKey(msg)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, e := range t.entries {
		if now.Sub(e.seen) > t.ttl {
			delete(t.entries, k)
		}
	}

	e := t.entries[key]
	e.attempts++
	e.seen = now
	t.entries[key] = e
	return e.attempts
}

func (t *retryTracker) reset(msg *sarama.ConsumerMessage) {
	t.mu.Lock()
	delete(t.entries, retryKey(msg))
	t.mu.Unlock()
}

func retryKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
