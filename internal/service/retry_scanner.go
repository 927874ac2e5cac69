package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = time.Minute
	defaultRetryScanLimit    = 100
)

// RetryScanner gives failed notifications with a retryable error another
// attempt while they have retries left. Rearmed notifications are published
// by the scheduler.
type RetryScanner struct {
	notifications repository.NotificationRepository
	events        *eventLog
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewRetryScanner(
	notifications repository.NotificationRepository,
	events repository.EventRepository,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RetryScanner{
		notifications: notifications,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		now:           time.Now,
	}
	s.events = &eventLog{notifications: events, logger: logger, now: func() time.Time { return s.now() }}
	return s, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scan(ctx context.Context) error {
	failed, err := s.notifications.GetRetryableFailed(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch retryable notifications: %w", err)
	}

	for i := range failed {
		n := failed[i]
		if err := s.notifications.RearmFailed(ctx, n.ID, s.now().UTC()); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			s.logger.Error("failed to rearm retryable notification",
				zap.String("notificationId", n.ID),
				zap.Error(err),
			)
			continue
		}

		s.events.notification(ctx, n.ID, domain.EventRetry, map[string]any{
			"retry_count": n.RetryCount + 1,
		}, "")
		s.logger.Info("failed notification rearmed",
			zap.String("notificationId", n.ID),
			zap.Int("retryCount", n.RetryCount+1),
		)
	}
	return nil
}
