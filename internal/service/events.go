package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

// eventLog appends timeline entries. A failed append is logged and never
// undoes the transition it describes.
type eventLog struct {
	notifications repository.EventRepository
	campaigns     repository.CampaignEventRepository
	logger        *zap.Logger
	now           func() time.Time
}

func (l *eventLog) notification(
	ctx context.Context,
	notificationID string,
	eventType domain.EventType,
	data map[string]any,
	errMsg string,
) {
	if l == nil || l.notifications == nil {
		return
	}

	event := &domain.NotificationEvent{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		EventType:      eventType,
		Data:           data,
		CreatedAt:      l.now().UTC(),
	}
	if errMsg != "" {
		event.ErrorMessage = &errMsg
	}

	if err := l.notifications.Create(ctx, event); err != nil {
		l.logger.Error("failed to append notification event",
			zap.String("notificationId", notificationID),
			zap.String("eventType", eventType.String()),
			zap.Error(err),
		)
	}
}

func (l *eventLog) campaign(
	ctx context.Context,
	campaignID string,
	eventType domain.CampaignEventType,
	data map[string]any,
) {
	if l == nil || l.campaigns == nil {
		return
	}

	event := &domain.CampaignEvent{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		EventType:  eventType,
		Data:       data,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.campaigns.Create(ctx, event); err != nil {
		l.logger.Error("failed to append campaign event",
			zap.String("campaignId", campaignID),
			zap.String("eventType", eventType.String()),
			zap.Error(err),
		)
	}
}
