package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Outcome is how a consumed delivery was settled with the broker.
type Outcome string

const (
	OutcomeAcked      Outcome = "acked"
	OutcomeRequeued   Outcome = "requeued"
	OutcomeDeadLetter Outcome = "dead_lettered"
	OutcomeRejected   Outcome = "rejected"
)

// OutcomeHook observes every settled delivery.
type OutcomeHook func(queue string, outcome Outcome)

type RabbitMQConsumer struct {
	client    *RabbitMQ
	prefetch  int
	logger    *zap.Logger
	onOutcome OutcomeHook
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:    client,
		prefetch:  prefetch,
		logger:    logger,
		onOutcome: func(string, Outcome) {},
	}
}

// SetOutcomeHook installs hook; nil restores the no-op.
func (c *RabbitMQConsumer) SetOutcomeHook(hook OutcomeHook) {
	if hook == nil {
		hook = func(string, Outcome) {}
	}
	c.onOutcome = hook
}

// Consume blocks until ctx is done, reconnecting with exponential backoff
// whenever the delivery channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}
		c.logger.Warn("queue consumer disconnected",
			zap.String("queue", queue),
			zap.Duration("retryIn", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	outcome, err := c.process(ctx, d, handler)
	if err != nil {
		return err
	}
	c.onOutcome(d.RoutingKey, outcome)
	return nil
}

// process runs handler and settles d. Malformed payloads are rejected
// without requeue. A failed handler is requeued once, then dead-lettered;
// the scheduler's stuck and stale sweeps redrive the row afterwards.
func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) (Outcome, error) {
	msg, err := decodeMessage(d.Body)
	if err != nil {
		c.logger.Warn("rejecting malformed message",
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return "", fmt.Errorf("failed to reject malformed message: %w", rejectErr)
		}
		return OutcomeRejected, nil
	}

	if err := handler(ctx, msg); err != nil {
		outcome := OutcomeRequeued
		if d.Redelivered {
			outcome = OutcomeDeadLetter
		}
		c.logger.Warn("message handler failed",
			zap.String("notificationId", msg.NotificationID),
			zap.String("correlationId", msg.CorrelationID),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, outcome == OutcomeRequeued); nackErr != nil {
			return "", fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return outcome, nil
	}

	if err := d.Ack(false); err != nil {
		return "", fmt.Errorf("failed to ack notification %s: %w", msg.NotificationID, err)
	}
	return OutcomeAcked, nil
}

func decodeMessage(body []byte) (NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid json: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
