package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aferconlda/aferconpay1/libs/kafka"
	"github.com/aferconlda/aferconpay1/services/notifier/internal/push"
	"github.com/aferconlda/aferconpay1/services/notifier/internal/storage"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"log/slog"
)

type NotificationEvent struct {
	kafka.Envelope
	AccountID string `json:"account_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Type      string `json:"type"`
}

func (e *NotificationEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != kafka.EventNotification {
		return fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	if strings.TrimSpace(e.AccountID) == "" {
		return fmt.Errorf("account_id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

type NotificationStore interface {
	StoreNotification(ctx context.Context, eventID string, n storage.Notification) (bool, error)
	GetFCMToken(ctx context.Context, accountID uuid.UUID) (string, error)
}

type PushSender interface {
	Enabled() bool
	Send(ctx context.Context, msg push.Message) error
}

type NotificationConsumer struct {
	store   NotificationStore
	sender  PushSender
	logger  *slog.Logger
	metrics *Metrics
}

func NewNotificationConsumer(store NotificationStore, sender PushSender, logger *slog.Logger, metrics *Metrics) *NotificationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationConsumer{
		store:   store,
		sender:  sender,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleMessage stores the notification row exactly once and fires a
// best-effort push. Malformed events go to the DLQ; storage errors are
// retried by the consumer loop.
func (c *NotificationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty_message")
	}
	var event NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode %s: %w", kafka.EventNotification, err), "decode")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(err, "invalid_event")
	}
	accountID, err := uuid.Parse(strings.TrimSpace(event.AccountID))
	if err != nil {
		return kafka.DLQ(fmt.Errorf("invalid account_id: %w", err), "invalid_event")
	}

	inserted, err := c.store.StoreNotification(ctx, event.EventID, storage.Notification{
		AccountID: accountID,
		Title:     event.Title,
		Body:      event.Body,
		Type:      event.Type,
	})
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	if !inserted {
		c.logger.Info("notification event already processed", "event_id", event.EventID)
		c.metrics.IncConsumed("duplicate")
		return nil
	}
	c.metrics.IncConsumed("stored")

	c.pushNotification(ctx, accountID, event)
	return nil
}

// pushNotification is best-effort; delivery failure never fails the
// message.
func (c *NotificationConsumer) pushNotification(ctx context.Context, accountID uuid.UUID, event NotificationEvent) {
	if c.sender == nil || !c.sender.Enabled() {
		return
	}
	token, err := c.store.GetFCMToken(ctx, accountID)
	if err != nil {
		if !errors.Is(err, storage.ErrAccountNotFound) {
			c.logger.Error("fcm token lookup failed", "account_id", accountID.String(), "error", err)
		}
		return
	}
	if token == "" {
		return
	}
	if err := c.sender.Send(ctx, push.Message{Token: token, Title: event.Title, Body: event.Body}); err != nil {
		c.logger.Error("push delivery failed", "account_id", accountID.String(), "event_id", event.EventID, "error", err)
		c.metrics.IncPush("error")
		return
	}
	c.metrics.IncPush("success")
}
