package repository

import (
	"context"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/gorm"
)

type EventRepository interface {
	Create(ctx context.Context, e *domain.NotificationEvent) error
	ListByNotification(ctx context.Context, notificationID string) ([]domain.NotificationEvent, error)
	// CountNotificationsWithEvent counts distinct campaign notifications that recorded eventType.
	CountNotificationsWithEvent(ctx context.Context, campaignID string, eventType domain.EventType) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Create(ctx context.Context, e *domain.NotificationEvent) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *eventModelToDomain(model)
	}
	return nil
}

func (r *GormEventRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.NotificationEvent, error) {
	var models []NotificationEventModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.NotificationEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, nil
}

func (r *GormEventRepo) CountNotificationsWithEvent(ctx context.Context, campaignID string, eventType domain.EventType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationEventModel{}).
		Joins("JOIN notifications ON notifications.id = notification_events.notification_id").
		Where("notifications.campaign_id = ? AND notification_events.event_type = ?", campaignID, eventType).
		Distinct("notification_events.notification_id").
		Count(&count).Error
	return count, err
}
