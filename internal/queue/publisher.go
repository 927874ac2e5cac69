package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	appID = "notifier"

	headerMerchantID = "x-merchant-id"
	headerCampaignID = "x-campaign-id"
	headerBulkID     = "x-bulk-id"
)

// RabbitMQPublisher publishes each message on a short-lived channel of the
// shared connection, routed through the default exchange to its work queue.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg NotificationMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := newPublishing(msg, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish notification %s to %q: %w", msg.NotificationID, queue, err)
	}
	return nil
}

// newPublishing builds the persistent AMQP message for msg. Owner ids are
// copied into headers so DLQ tooling can group dead letters without
// decoding bodies.
func newPublishing(msg NotificationMessage, now time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid notification message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal notification message: %w", err)
	}

	headers := amqp.Table{}
	if msg.MerchantID != "" {
		headers[headerMerchantID] = msg.MerchantID
	}
	if msg.CampaignID != "" {
		headers[headerCampaignID] = msg.CampaignID
	}
	if msg.BulkID != "" {
		headers[headerBulkID] = msg.BulkID
	}

	return amqp.Publishing{
		AppId:         appID,
		Type:          msg.Source(),
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		MessageId:     msg.NotificationID,
		CorrelationId: msg.CorrelationID,
		Headers:       headers,
		Priority:      PriorityValue(msg.Priority),
		Body:          body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
