package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 5 * time.Second
	defaultSchedulerScanLimit    = 100
	defaultProcessingTimeout     = 5 * time.Minute
	defaultStalePendingAfter     = 10 * time.Minute
)

type campaignRunner interface {
	StartScheduled(ctx context.Context, id string) (bool, error)
	ProcessRunning(ctx context.Context, id string) (*domain.Campaign, error)
}

type bulkRunner interface {
	Start(ctx context.Context, id string) error
	Reconcile(ctx context.Context, id string) (*domain.BulkNotification, error)
}

type SchedulerDeps struct {
	Notifications repository.NotificationRepository
	Events        repository.EventRepository
	Campaigns     repository.CampaignRepository
	Bulks         repository.BulkRepository
	CampaignRuns  campaignRunner
	BulkRuns      bulkRunner
	Publisher     queue.Publisher
}

type SchedulerConfig struct {
	Interval          time.Duration
	BatchSize         int
	ProcessingTimeout time.Duration
	StalePendingAfter time.Duration
	RepublishDelay    time.Duration
}

// Scheduler periodically publishes due notifications, promotes due campaigns
// and bulk jobs, recovers abandoned notifications and reconciles aggregates.
// Every step is a conditional transition, so several schedulers can run.
type Scheduler struct {
	notifications repository.NotificationRepository
	campaigns     repository.CampaignRepository
	bulks         repository.BulkRepository
	campaignRuns  campaignRunner
	bulkRuns      bulkRunner
	publisher     queue.Publisher
	events        *eventLog
	logger        *zap.Logger
	metrics       *observability.Metrics
	cfg           SchedulerConfig
	now           func() time.Time
}

func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSchedulerScanInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSchedulerScanLimit
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaultProcessingTimeout
	}
	if cfg.StalePendingAfter <= 0 {
		cfg.StalePendingAfter = defaultStalePendingAfter
	}
	if cfg.RepublishDelay <= 0 {
		cfg.RepublishDelay = defaultPublishRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		notifications: deps.Notifications,
		campaigns:     deps.Campaigns,
		bulks:         deps.Bulks,
		campaignRuns:  deps.CampaignRuns,
		bulkRuns:      deps.BulkRuns,
		publisher:     deps.Publisher,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
	s.events = &eventLog{notifications: deps.Events, logger: logger, now: func() time.Time { return s.now() }}
	return s, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one pass of every sweep. A failing sweep does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) error {
	return errors.Join(
		s.publishDue(ctx),
		s.promoteCampaigns(ctx),
		s.startDueBulks(ctx),
		s.recoverStuck(ctx),
		s.recoverStalePending(ctx),
		s.reconcileCampaigns(ctx),
		s.reconcileBulks(ctx),
	)
}

// publishDue claims pending notifications whose available_at has passed and
// publishes them. A failed publish puts available_at back.
func (s *Scheduler) publishDue(ctx context.Context) error {
	due, err := s.notifications.ClaimDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due notifications: %w", err)
	}

	published := 0
	for i := range due {
		n := due[i]
		if err := queue.PublishNotification(ctx, s.publisher, n); err != nil {
			s.logger.Error("failed to enqueue due notification",
				zap.String("notificationId", n.ID),
				zap.String("queue", queue.QueueName(n.Channel)),
				zap.Error(err),
			)
			if rearmErr := s.notifications.Rearm(ctx, n.ID, s.now().Add(s.cfg.RepublishDelay)); rearmErr != nil {
				s.logger.Error("failed to rearm notification after publish error",
					zap.String("notificationId", n.ID),
					zap.Error(rearmErr),
				)
			}
			continue
		}
		published++
	}

	s.metrics.AddSchedulerPromoted("notification", published)
	return nil
}

func (s *Scheduler) promoteCampaigns(ctx context.Context) error {
	if s.campaigns == nil || s.campaignRuns == nil {
		return nil
	}

	due, err := s.campaigns.ListDueScheduled(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list due campaigns: %w", err)
	}

	promoted := 0
	for i := range due {
		started, err := s.campaignRuns.StartScheduled(ctx, due[i].ID)
		if err != nil {
			s.logger.Error("failed to start scheduled campaign",
				zap.String("campaignId", due[i].ID),
				zap.Error(err),
			)
		}
		if started {
			promoted++
		}
	}

	s.metrics.AddSchedulerPromoted("campaign", promoted)
	return nil
}

func (s *Scheduler) startDueBulks(ctx context.Context) error {
	if s.bulks == nil || s.bulkRuns == nil {
		return nil
	}

	due, err := s.bulks.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list due bulk notifications: %w", err)
	}

	for i := range due {
		if err := s.bulkRuns.Start(ctx, due[i].ID); err != nil {
			s.logger.Error("failed to start bulk notification",
				zap.String("bulkId", due[i].ID),
				zap.Error(err),
			)
		}
	}

	s.metrics.AddSchedulerPromoted("bulk", len(due))
	return nil
}

// recoverStuck returns notifications abandoned in processing to pending with
// one more retry used, or fails them when no retries remain.
func (s *Scheduler) recoverStuck(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.ProcessingTimeout)
	stuck, err := s.notifications.GetStuckProcessing(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stuck notifications: %w", err)
	}

	for i := range stuck {
		n := stuck[i]
		msg := fmt.Sprintf("processing exceeded %s", s.cfg.ProcessingTimeout)

		if n.RetryCount < n.MaxRetries {
			availableAt := s.now().UTC()
			if err := s.notifications.ScheduleRetry(ctx, n.ID, availableAt, msg); err != nil {
				s.logRecoveryError(n.ID, err)
				continue
			}
			s.events.notification(ctx, n.ID, domain.EventProcessingTimeout, map[string]any{
				"retry_count": n.RetryCount + 1,
			}, msg)
			s.metrics.IncSchedulerRecovered("processing_timeout")
			continue
		}

		if err := s.notifications.MarkFailed(ctx, n.ID, msg, true); err != nil {
			s.logRecoveryError(n.ID, err)
			continue
		}
		s.events.notification(ctx, n.ID, domain.EventProcessingTimeout, map[string]any{
			"retry_count": n.RetryCount,
		}, msg)
		s.events.notification(ctx, n.ID, domain.EventFailed, map[string]any{
			"reason":    domain.ReasonRetriesExhausted,
			"retryable": true,
		}, msg)
		s.metrics.IncNotificationFailed(n.Channel.String(), domain.ReasonRetriesExhausted)
		s.metrics.IncSchedulerRecovered("processing_timeout_failed")
	}
	return nil
}

// recoverStalePending rearms pending notifications that have no available_at
// and were not picked up, e.g. after a lost message.
func (s *Scheduler) recoverStalePending(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.StalePendingAfter)
	stale, err := s.notifications.GetStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale pending notifications: %w", err)
	}

	for i := range stale {
		if err := s.notifications.Rearm(ctx, stale[i].ID, s.now()); err != nil {
			s.logRecoveryError(stale[i].ID, err)
			continue
		}
		s.metrics.IncSchedulerRecovered("stale_pending")
	}
	return nil
}

func (s *Scheduler) reconcileCampaigns(ctx context.Context) error {
	if s.campaigns == nil || s.campaignRuns == nil {
		return nil
	}

	running, err := s.campaigns.ListByStatus(ctx, domain.CampaignStatusRunning, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list running campaigns: %w", err)
	}
	for i := range running {
		if _, err := s.campaignRuns.ProcessRunning(ctx, running[i].ID); err != nil {
			s.logger.Error("failed to reconcile campaign",
				zap.String("campaignId", running[i].ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Scheduler) reconcileBulks(ctx context.Context) error {
	if s.bulks == nil || s.bulkRuns == nil {
		return nil
	}

	processing, err := s.bulks.ListByStatus(ctx, domain.BulkStatusProcessing, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list processing bulk notifications: %w", err)
	}
	for i := range processing {
		if _, err := s.bulkRuns.Reconcile(ctx, processing[i].ID); err != nil {
			s.logger.Error("failed to reconcile bulk notification",
				zap.String("bulkId", processing[i].ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Scheduler) logRecoveryError(notificationID string, err error) {
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Debug("notification moved on before recovery", zap.String("notificationId", notificationID))
		return
	}
	s.logger.Error("failed to recover notification",
		zap.String("notificationId", notificationID),
		zap.Error(err),
	)
}
