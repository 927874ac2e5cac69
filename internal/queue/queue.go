package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

// Publisher publishes notification messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotificationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg NotificationMessage) error

// Consumer consumes notification messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	queuePrefix = "notify"

	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 4
)

// QueueName returns the channel work queue name, e.g. notify.sms.
func QueueName(channel domain.Channel) string {
	return fmt.Sprintf("%s.%s", queuePrefix, channel)
}

// DLQName returns the dead-letter queue name for a channel, e.g. notify.dlq.sms.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("%s.dlq.%s", queuePrefix, channel)
}

// WorkQueueNames returns one work queue per channel.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityUrgent:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}

// PublishNotification publishes n to its channel work queue.
func PublishNotification(ctx context.Context, p Publisher, n domain.Notification) error {
	return p.Publish(ctx, QueueName(n.Channel), NewNotificationMessage(n))
}
