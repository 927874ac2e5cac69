package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

type notificationDispatcher interface {
	Dispatch(ctx context.Context, notificationID string) error
}

// WorkerService runs the consumer pool that feeds queued notifications to the dispatcher.
type WorkerService struct {
	consumer    queue.Consumer
	dispatcher  notificationDispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	dispatcher notificationDispatcher,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		dispatcher:  dispatcher,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the channel queues until ctx is cancelled. Workers are spread
// round-robin over the queues, so every channel gets at least one consumer
// once concurrency reaches the number of channels.
func (s *WorkerService) Start(ctx context.Context) error {
	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	workers := max(s.concurrency, len(queueNames))
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := s.consumer.Consume(groupCtx, queueName, s.processMessage); err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.NotificationMessage) error {
	if err := msg.Validate(); err != nil {
		s.logger.Warn("dropping malformed queue message", zap.Error(err))
		return nil
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	if msg.MerchantID != "" {
		ctx = observability.WithMerchantID(ctx, msg.MerchantID)
	}

	channel := msg.Channel.String()
	s.metrics.IncWorkerInFlight(channel)
	defer s.metrics.DecWorkerInFlight(channel)

	return s.dispatcher.Dispatch(ctx, msg.NotificationID)
}
