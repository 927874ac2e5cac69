package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/gorm"
)

// BulkCounts are the progress counters of a bulk notification.
type BulkCounts struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

type BulkRepository interface {
	Create(ctx context.Context, b *domain.BulkNotification) error
	GetByID(ctx context.Context, id string) (*domain.BulkNotification, error)
	// TransitionStatus moves the bulk to `to` only while its status is one of from.
	TransitionStatus(ctx context.Context, id string, from []domain.BulkStatus, to domain.BulkStatus, fields map[string]any) (bool, error)
	UpdateCounts(ctx context.Context, id string, counts BulkCounts) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.BulkNotification, error)
	ListByStatus(ctx context.Context, status domain.BulkStatus, limit int) ([]domain.BulkNotification, error)
}

type GormBulkRepo struct {
	db *gorm.DB
}

func NewGormBulkRepo(db *gorm.DB) *GormBulkRepo {
	return &GormBulkRepo{db: db}
}

func (r *GormBulkRepo) Create(ctx context.Context, b *domain.BulkNotification) error {
	model, err := bulkModelFromDomain(b)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	created, err := bulkModelToDomain(model)
	if err != nil {
		return err
	}
	*b = *created
	return nil
}

func (r *GormBulkRepo) GetByID(ctx context.Context, id string) (*domain.BulkNotification, error) {
	var model BulkNotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bulkModelToDomain(&model)
}

func (r *GormBulkRepo) TransitionStatus(
	ctx context.Context,
	id string,
	from []domain.BulkStatus,
	to domain.BulkStatus,
	fields map[string]any,
) (bool, error) {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	result := r.db.WithContext(ctx).
		Model(&BulkNotificationModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormBulkRepo) UpdateCounts(ctx context.Context, id string, counts BulkCounts) error {
	result := r.db.WithContext(ctx).
		Model(&BulkNotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_count": counts.Processed,
			"success_count":   counts.Succeeded,
			"failed_count":    counts.Failed,
			"skipped_count":   counts.Skipped,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDue returns pending bulks whose schedule has passed, including unscheduled ones.
func (r *GormBulkRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.BulkNotification, error) {
	var models []BulkNotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", domain.BulkStatusPending, now.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return bulkModelsToDomain(models)
}

func (r *GormBulkRepo) ListByStatus(ctx context.Context, status domain.BulkStatus, limit int) ([]domain.BulkNotification, error) {
	var models []BulkNotificationModel
	err := r.db.WithContext(ctx).
		Omit("recipients").
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return bulkModelsToDomain(models)
}

func bulkModelsToDomain(models []BulkNotificationModel) ([]domain.BulkNotification, error) {
	bulks := make([]domain.BulkNotification, 0, len(models))
	for i := range models {
		b, err := bulkModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		bulks = append(bulks, *b)
	}
	return bulks, nil
}
