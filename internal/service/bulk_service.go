package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	maxBulkRecipients            = 100000
	defaultBulkOperationsPerHour = 10
)

// BulkRequest submits one message to many recipient records.
type BulkRequest struct {
	MerchantID  string
	Name        string
	Channel     domain.Channel
	Priority    domain.Priority
	Subject     string
	Body        string
	Recipients  []map[string]any
	Metadata    map[string]any
	ScheduledAt *time.Time
}

type BulkServiceDeps struct {
	Bulks         repository.BulkRepository
	Notifications repository.NotificationRepository
	Events        repository.EventRepository
	Expander      *BulkExpander
	Limits        admissionChecker
}

type BulkService struct {
	bulks          repository.BulkRepository
	notifications  repository.NotificationRepository
	expander       *BulkExpander
	limits         admissionChecker
	events         *eventLog
	logger         *zap.Logger
	metrics        *observability.Metrics
	operationsHour int
	now            func() time.Time
}

func NewBulkService(deps BulkServiceDeps, operationsPerHour int, logger *zap.Logger) (*BulkService, error) {
	if deps.Bulks == nil {
		return nil, fmt.Errorf("bulk repository is required")
	}
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deps.Expander == nil {
		return nil, fmt.Errorf("bulk expander is required")
	}
	if operationsPerHour <= 0 {
		operationsPerHour = defaultBulkOperationsPerHour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &BulkService{
		bulks:          deps.Bulks,
		notifications:  deps.Notifications,
		expander:       deps.Expander,
		limits:         deps.Limits,
		logger:         logger,
		operationsHour: operationsPerHour,
		now:            time.Now,
	}
	s.events = &eventLog{notifications: deps.Events, logger: logger, now: func() time.Time { return s.now() }}
	return s, nil
}

func (s *BulkService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SendBulk stores the job and, unless it is scheduled, expands it right away.
// A job whose expansion fails stays pending and is picked up by the scheduler.
func (s *BulkService) SendBulk(ctx context.Context, req BulkRequest) (*domain.BulkNotification, error) {
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", domain.ErrValidation, priority)
	}
	if len(req.Recipients) > maxBulkRecipients {
		return nil, fmt.Errorf("%w: bulk exceeds %d recipients", domain.ErrValidation, maxBulkRecipients)
	}

	bulk := &domain.BulkNotification{
		ID:              uuid.NewString(),
		MerchantID:      strings.TrimSpace(req.MerchantID),
		Name:            strings.TrimSpace(req.Name),
		Channel:         req.Channel,
		Subject:         req.Subject,
		Body:            req.Body,
		Priority:        priority,
		Status:          domain.BulkStatusPending,
		Recipients:      req.Recipients,
		TotalRecipients: len(req.Recipients),
		Metadata:        req.Metadata,
	}
	if err := bulk.Validate(); err != nil {
		return nil, err
	}
	if req.ScheduledAt != nil {
		if err := domain.ValidateScheduledAt(*req.ScheduledAt, s.now()); err != nil {
			return nil, err
		}
		at := req.ScheduledAt.UTC()
		bulk.ScheduledAt = &at
	}

	if s.limits != nil {
		allowed, err := s.limits.Check(ctx, ratelimit.BulkOperationRule(bulk.MerchantID, s.operationsHour))
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: bulk operation limit of %d per hour reached", domain.ErrRateLimited, s.operationsHour)
		}
	}

	if err := s.bulks.Create(ctx, bulk); err != nil {
		return nil, fmt.Errorf("failed to create bulk notification: %w", err)
	}
	s.logger.Info("bulk notification accepted",
		zap.String("bulkId", bulk.ID),
		zap.String("merchantId", bulk.MerchantID),
		zap.Int("recipients", bulk.TotalRecipients),
	)

	if bulk.ScheduledAt != nil {
		return bulk, nil
	}

	if err := s.Start(ctx, bulk.ID); err != nil {
		s.logger.Error("bulk expansion deferred to scheduler",
			zap.String("bulkId", bulk.ID),
			zap.Error(err),
		)
	}
	return s.Get(ctx, bulk.ID)
}

// Start moves a pending job to processing and expands its recipients. It is a
// no-op when another caller already started the job.
func (s *BulkService) Start(ctx context.Context, id string) error {
	started, err := s.bulks.TransitionStatus(ctx, id,
		[]domain.BulkStatus{domain.BulkStatusPending}, domain.BulkStatusProcessing,
		map[string]any{"started_at": s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to start bulk notification: %w", err)
	}
	if !started {
		return nil
	}

	bulk, err := s.bulks.GetByID(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.expander.ExpandBulk(ctx, bulk, bulk.Recipients, s.onBatchCreated)
	if err != nil {
		if _, revertErr := s.bulks.TransitionStatus(ctx, id,
			[]domain.BulkStatus{domain.BulkStatusProcessing}, domain.BulkStatusPending, nil); revertErr != nil {
			s.logger.Error("failed to return bulk notification to pending",
				zap.String("bulkId", id),
				zap.Error(revertErr),
			)
		}
		return err
	}

	skipped := result.Skipped + result.Duplicates
	if err := s.bulks.UpdateCounts(ctx, id, repository.BulkCounts{
		Processed: skipped,
		Failed:    result.Skipped,
		Skipped:   skipped,
	}); err != nil {
		return fmt.Errorf("failed to store bulk counters: %w", err)
	}
	s.metrics.AddRecipientsSkipped("bulk", result.Skipped)

	s.logger.Info("bulk notification expanded",
		zap.String("bulkId", id),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("existing", result.Existing),
	)
	return nil
}

func (s *BulkService) onBatchCreated(ctx context.Context, created []*domain.Notification) error {
	for _, n := range created {
		s.events.notification(ctx, n.ID, domain.EventCreated, map[string]any{
			"source":  "bulk",
			"bulk_id": *n.BulkID,
		}, "")
	}
	if len(created) > 0 {
		s.metrics.IncNotificationCreated(created[0].Channel.String(), "bulk", len(created))
	}
	return nil
}

func (s *BulkService) Get(ctx context.Context, id string) (*domain.BulkNotification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: bulk id is required", domain.ErrValidation)
	}
	return s.bulks.GetByID(ctx, id)
}

// Cancel stops a pending or processing job and cancels its pending notifications.
func (s *BulkService) Cancel(ctx context.Context, id string) (*domain.BulkNotification, error) {
	bulk, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.bulks.TransitionStatus(ctx, bulk.ID,
		[]domain.BulkStatus{domain.BulkStatusPending, domain.BulkStatusProcessing}, domain.BulkStatusCancelled,
		map[string]any{"completed_at": s.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel bulk notification: %w", err)
	}
	if !ok {
		current, getErr := s.bulks.GetByID(ctx, bulk.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, domain.NewStateError("bulk notification", bulk.ID, "cancel", current.Status,
			domain.BulkStatusPending, domain.BulkStatusProcessing)
	}

	ids, err := s.notifications.CancelPendingByBulk(ctx, bulk.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel bulk notifications: %w", err)
	}
	for _, nid := range ids {
		s.events.notification(ctx, nid, domain.EventCancelled, map[string]any{
			"reason":  domain.ReasonBulkCancelled,
			"bulk_id": bulk.ID,
		}, "")
	}

	return s.Reconcile(ctx, bulk.ID)
}

// Reconcile refreshes the job counters from its notifications and completes a
// processing job once every recipient has a final outcome.
func (s *BulkService) Reconcile(ctx context.Context, id string) (*domain.BulkNotification, error) {
	bulk, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if bulk.Status == domain.BulkStatusPending {
		return bulk, nil
	}

	stats, err := s.notifications.GetBulkStats(ctx, bulk.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bulk stats: %w", err)
	}

	skippedInvalid := bulk.FailedCount - failedFromNotifications(bulk)
	counts := repository.BulkCounts{
		Processed: stats.Succeeded + stats.Failed + bulk.SkippedCount,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed + skippedInvalid,
		Skipped:   bulk.SkippedCount,
	}
	if err := s.bulks.UpdateCounts(ctx, bulk.ID, counts); err != nil {
		return nil, fmt.Errorf("failed to update bulk counters: %w", err)
	}

	expanded := stats.Total+bulk.SkippedCount >= bulk.TotalRecipients
	if bulk.Status == domain.BulkStatusProcessing && stats.Open == 0 && expanded {
		completed, err := s.bulks.TransitionStatus(ctx, bulk.ID,
			[]domain.BulkStatus{domain.BulkStatusProcessing}, domain.BulkStatusCompleted,
			map[string]any{"completed_at": s.now().UTC()})
		if err != nil {
			return nil, fmt.Errorf("failed to complete bulk notification: %w", err)
		}
		if completed {
			s.logger.Info("bulk notification completed",
				zap.String("bulkId", bulk.ID),
				zap.Int("succeeded", counts.Succeeded),
				zap.Int("failed", counts.Failed),
			)
		}
	}

	return s.bulks.GetByID(ctx, bulk.ID)
}

// failedFromNotifications is the share of FailedCount that came from
// notifications rather than records skipped at expansion.
func failedFromNotifications(b *domain.BulkNotification) int {
	return max(b.ProcessedCount-b.SkippedCount-b.SuccessCount, 0)
}
