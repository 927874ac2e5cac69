package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const defaultPublishRetryDelay = 30 * time.Second

// SendRequest describes a single notification submitted by a merchant.
type SendRequest struct {
	MerchantID     string
	Channel        domain.Channel
	Priority       domain.Priority
	Recipient      string
	Subject        string
	Body           string
	Metadata       map[string]any
	IdempotencyKey string
	CorrelationID  string
	MaxRetries     *int
	ScheduledAt    *time.Time
}

type NotificationService struct {
	notifications repository.NotificationRepository
	guard         *IdempotencyGuard
	publisher     queue.Publisher
	events        *eventLog
	eventRepo     repository.EventRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	retryDelay    time.Duration
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	events repository.EventRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	guard, err := NewIdempotencyGuard(notifications, logger)
	if err != nil {
		return nil, err
	}

	s := &NotificationService{
		notifications: notifications,
		guard:         guard,
		publisher:     publisher,
		eventRepo:     events,
		logger:        logger,
		retryDelay:    defaultPublishRetryDelay,
		now:           time.Now,
	}
	s.events = &eventLog{notifications: events, logger: logger, now: func() time.Time { return s.now() }}
	return s, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetPublishRetryDelay sets how long a notification waits for the scheduler
// after its first publish failed.
func (s *NotificationService) SetPublishRetryDelay(d time.Duration) {
	if d > 0 {
		s.retryDelay = d
	}
}

// SendImmediate creates the notification and publishes it to its channel
// queue. A repeated idempotency key returns the notification created first.
func (s *NotificationService) SendImmediate(ctx context.Context, req SendRequest) (*domain.Notification, error) {
	req.ScheduledAt = nil
	n, err := s.build(req)
	if err != nil {
		return nil, err
	}

	created, isNew, err := s.create(ctx, n)
	if err != nil || !isNew {
		return created, err
	}

	if err := queue.PublishNotification(ctx, s.publisher, *created); err != nil {
		availableAt := s.now().Add(s.retryDelay).UTC()
		s.logger.Error("failed to publish notification, deferring to scheduler",
			zap.String("notificationId", created.ID),
			zap.String("channel", created.Channel.String()),
			zap.Error(err),
		)
		if rearmErr := s.notifications.Rearm(ctx, created.ID, availableAt); rearmErr != nil {
			s.logger.Error("failed to rearm notification after publish error",
				zap.String("notificationId", created.ID),
				zap.Error(rearmErr),
			)
		} else {
			created.AvailableAt = &availableAt
		}
	}

	return created, nil
}

// Schedule creates a notification that the scheduler publishes at ScheduledAt.
func (s *NotificationService) Schedule(ctx context.Context, req SendRequest) (*domain.Notification, error) {
	if req.ScheduledAt == nil {
		return nil, fmt.Errorf("%w: scheduled_at is required", domain.ErrValidation)
	}
	if err := domain.ValidateScheduledAt(*req.ScheduledAt, s.now()); err != nil {
		return nil, err
	}

	n, err := s.build(req)
	if err != nil {
		return nil, err
	}
	at := req.ScheduledAt.UTC()
	n.ScheduledAt = &at
	n.AvailableAt = &at

	created, _, err := s.create(ctx, n)
	return created, err
}

func (s *NotificationService) create(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
	if n.IdempotencyKey != nil {
		existing, err := s.guard.Check(ctx, n.MerchantID, *n.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	created, isNew, err := s.guard.Create(ctx, n)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create notification: %w", err)
	}
	if !isNew {
		return created, false, nil
	}

	data := map[string]any{"source": "api"}
	if created.ScheduledAt != nil {
		data["scheduled_at"] = created.ScheduledAt.Format(time.RFC3339)
	}
	s.events.notification(ctx, created.ID, domain.EventCreated, data, "")
	s.metrics.IncNotificationCreated(created.Channel.String(), "api", 1)
	return created, true, nil
}

func (s *NotificationService) build(req SendRequest) (*domain.Notification, error) {
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	recipient := domain.NormalizeAddress(req.Channel, req.Recipient)
	n := &domain.Notification{
		ID:            uuid.NewString(),
		MerchantID:    strings.TrimSpace(req.MerchantID),
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		Channel:       req.Channel,
		Priority:      priority,
		Recipient:     recipient,
		Subject:       strings.TrimSpace(req.Subject),
		Body:          strings.TrimSpace(req.Body),
		Metadata:      req.Metadata,
		Status:        domain.StatusPending,
		MaxRetries:    domain.DefaultMaxRetries,
	}
	if n.CorrelationID == "" {
		n.CorrelationID = uuid.NewString()
	}
	if req.MaxRetries != nil {
		n.MaxRetries = *req.MaxRetries
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		n.IdempotencyKey = &key
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	if !domain.ValidAddress(n.Channel, n.Recipient) {
		return nil, fmt.Errorf("%w: invalid %s recipient %q", domain.ErrValidation, n.Channel, req.Recipient)
	}
	return n, nil
}

// Cancel moves a pending notification to cancelled.
func (s *NotificationService) Cancel(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.CanCancel() {
		return nil, domain.NewStateError("notification", n.ID, "cancel", n.Status, domain.StatusPending)
	}

	if err := s.notifications.Cancel(ctx, n.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			current, getErr := s.notifications.GetByID(ctx, n.ID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, domain.NewStateError("notification", n.ID, "cancel", current.Status, domain.StatusPending)
		}
		return nil, fmt.Errorf("failed to cancel notification: %w", err)
	}

	s.events.notification(ctx, n.ID, domain.EventCancelled, map[string]any{
		"reason": domain.ReasonUserCancelled,
	}, "")

	n.Status = domain.StatusCancelled
	n.AvailableAt = nil
	return n, nil
}

func (s *NotificationService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

// Events returns the notification timeline, oldest first.
func (s *NotificationService) Events(ctx context.Context, id string) ([]domain.NotificationEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.eventRepo == nil {
		return nil, nil
	}
	return s.eventRepo.ListByNotification(ctx, id)
}

// RecordEngagement applies a provider or tracking callback. Delivered moves a
// sent notification to delivered; opened and clicked are recorded as events on
// sent or delivered notifications.
func (s *NotificationService) RecordEngagement(
	ctx context.Context,
	id string,
	eventType domain.EventType,
	data map[string]any,
) (*domain.Notification, error) {
	if !eventType.IsEngagement() {
		return nil, fmt.Errorf("%w: unsupported engagement event %q", domain.ErrValidation, eventType)
	}

	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	switch {
	case eventType == domain.EventDelivered:
		if n.Status == domain.StatusDelivered {
			return n, nil
		}
		if n.Status != domain.StatusSent {
			return nil, domain.NewStateError("notification", n.ID, "mark delivered", n.Status, domain.StatusSent)
		}
		if err := s.notifications.MarkDelivered(ctx, n.ID, now); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return nil, domain.NewStateError("notification", n.ID, "mark delivered", n.Status, domain.StatusSent)
			}
			return nil, fmt.Errorf("failed to mark notification delivered: %w", err)
		}
		n.Status = domain.StatusDelivered
		n.DeliveredAt = &now
	case n.Status != domain.StatusSent && n.Status != domain.StatusDelivered:
		return nil, domain.NewStateError("notification", n.ID, "record "+eventType.String(), n.Status,
			domain.StatusSent, domain.StatusDelivered)
	}

	s.events.notification(ctx, n.ID, eventType, data, "")
	return n, nil
}
