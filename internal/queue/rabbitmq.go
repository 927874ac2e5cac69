package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "notify.dlx"
	connectionName   = "notifier"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQ manages RabbitMQ connectivity and topology declaration.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	// declaredOn is the connection the topology was last declared on.
	declaredOn *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}
		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	r.mu.RLock()
	declared := r.declaredOn == conn
	r.mu.RUnlock()
	if !declared {
		if err := declareTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		r.mu.Lock()
		r.declaredOn = conn
		r.mu.Unlock()
	}

	return ch, nil
}

// Connected reports whether the broker connection is currently open.
func (r *RabbitMQ) Connected() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.DialConfig(r.url, amqp.Config{
			Heartbeat:  10 * time.Second,
			Properties: amqp.Table{"connection_name": connectionName},
		})
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

// queueSpec describes one durable channel work queue and the dead-letter
// queue its rejected messages are routed to.
type queueSpec struct {
	work       string
	deadLetter string
	routingKey string
	args       amqp.Table
}

func topology() []queueSpec {
	specs := make([]queueSpec, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		routingKey := channel.String()
		specs = append(specs, queueSpec{
			work:       QueueName(channel),
			deadLetter: DLQName(channel),
			routingKey: routingKey,
			args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": routingKey,
				"x-max-priority":            queueMaxPriority,
			},
		})
	}
	return specs
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range topology() {
		if _, err := ch.QueueDeclare(spec.deadLetter, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", spec.deadLetter, err)
		}
		if err := ch.QueueBind(spec.deadLetter, spec.routingKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", spec.deadLetter, err)
		}
		if _, err := ch.QueueDeclare(spec.work, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.work, err)
		}
	}
	return nil
}
