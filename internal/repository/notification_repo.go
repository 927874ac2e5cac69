package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	MerchantID string
	Status     *domain.Status
	Channel    *domain.Channel
	CampaignID *string
	BulkID     *string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// SentResult carries the provider outcome persisted with a sent notification.
type SentResult struct {
	ProviderName      string
	ProviderMessageID string
	ProviderResponse  map[string]any
	SentAt            time.Time
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	// CreateBatch inserts notifications, skipping rows that collide with a
	// unique key, and returns the ids that were stored.
	CreateBatch(ctx context.Context, notifications []*domain.Notification) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, merchantID, idempotencyKey string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)

	// ClaimForProcessing moves a pending notification to processing.
	// It returns nil without error when the notification is not pending.
	ClaimForProcessing(ctx context.Context, id string, now time.Time) (*domain.Notification, error)
	MarkSent(ctx context.Context, id string, result SentResult) error
	MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error
	ScheduleRetry(ctx context.Context, id string, availableAt time.Time, errMsg string) error
	Release(ctx context.Context, id string, availableAt time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	Cancel(ctx context.Context, id string) error
	CancelPendingByCampaign(ctx context.Context, campaignID string) ([]string, error)
	CancelPendingByBulk(ctx context.Context, bulkID string) ([]string, error)

	// ClaimDue clears available_at on due pending notifications and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	Rearm(ctx context.Context, id string, availableAt time.Time) error
	GetStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Notification, error)
	GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Notification, error)
	GetRetryableFailed(ctx context.Context, limit int) ([]domain.Notification, error)
	RearmFailed(ctx context.Context, id string, availableAt time.Time) error

	CountInFlightByCampaign(ctx context.Context, campaignID string) (int64, error)
	GetBulkStats(ctx context.Context, bulkID string) (domain.BulkStats, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

// CreateBatch inserts notifications, silently skipping rows that collide with
// an existing unique key. Ids are generated by the caller, so the ids found
// after the insert are exactly the rows this call stored.
func (r *GormNotificationRepo) CreateBatch(ctx context.Context, notifications []*domain.Notification) ([]string, error) {
	models := make([]NotificationModel, 0, len(notifications))
	ids := make([]string, 0, len(notifications))
	for _, n := range notifications {
		if model := notificationModelFromDomain(n); model != nil {
			models = append(models, *model)
			ids = append(ids, model.ID)
		}
	}

	if len(models) == 0 {
		return nil, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == int64(len(models)) {
		return ids, nil
	}

	var stored []string
	if err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id IN ?", ids).
		Pluck("id", &stored).Error; err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetByIdempotencyKey(ctx context.Context, merchantID, idempotencyKey string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND idempotency_key = ?", merchantID, idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.MerchantID != "" {
		query = query.Where("merchant_id = ?", params.MerchantID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.CampaignID != nil {
		query = query.Where("campaign_id = ?", *params.CampaignID)
	}
	if params.BulkID != nil {
		query = query.Where("bulk_id = ?", *params.BulkID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return notificationModelsToDomain(models), total, nil
}

func (r *GormNotificationRepo) ClaimForProcessing(ctx context.Context, id string, now time.Time) (*domain.Notification, error) {
	var claimed *domain.Notification

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if model.Status != domain.StatusPending {
			return nil
		}

		startedAt := now.UTC()
		if err := tx.Model(&model).Updates(map[string]any{
			"status":                domain.StatusProcessing,
			"processing_started_at": startedAt,
			"available_at":          nil,
		}).Error; err != nil {
			return err
		}

		model.Status = domain.StatusProcessing
		model.ProcessingStartedAt = &startedAt
		model.AvailableAt = nil
		claimed = notificationModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, result SentResult) error {
	return r.transition(ctx, id, domain.StatusProcessing, map[string]any{
		"status":              domain.StatusSent,
		"provider_name":       result.ProviderName,
		"provider_message_id": result.ProviderMessageID,
		"provider_response":   datatypes.JSONMap(result.ProviderResponse),
		"sent_at":             result.SentAt.UTC(),
		"error_message":       nil,
		"retryable":           false,
	})
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error {
	return r.transition(ctx, id, domain.StatusProcessing, map[string]any{
		"status":        domain.StatusFailed,
		"error_message": errMsg,
		"retryable":     retryable,
	})
}

func (r *GormNotificationRepo) ScheduleRetry(ctx context.Context, id string, availableAt time.Time, errMsg string) error {
	return r.transition(ctx, id, domain.StatusProcessing, map[string]any{
		"status":        domain.StatusPending,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"available_at":  availableAt.UTC(),
		"error_message": errMsg,
		"retryable":     true,
	})
}

func (r *GormNotificationRepo) Release(ctx context.Context, id string, availableAt time.Time) error {
	return r.transition(ctx, id, domain.StatusProcessing, map[string]any{
		"status":       domain.StatusPending,
		"available_at": availableAt.UTC(),
	})
}

func (r *GormNotificationRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, domain.StatusSent, map[string]any{
		"status":       domain.StatusDelivered,
		"delivered_at": at.UTC(),
	})
}

func (r *GormNotificationRepo) Cancel(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusPending, map[string]any{
		"status":       domain.StatusCancelled,
		"available_at": nil,
	})
}

func (r *GormNotificationRepo) CancelPendingByCampaign(ctx context.Context, campaignID string) ([]string, error) {
	return r.cancelPendingWhere(ctx, "campaign_id = ?", campaignID)
}

func (r *GormNotificationRepo) CancelPendingByBulk(ctx context.Context, bulkID string) ([]string, error) {
	return r.cancelPendingWhere(ctx, "bulk_id = ?", bulkID)
}

func (r *GormNotificationRepo) cancelPendingWhere(ctx context.Context, cond string, arg string) ([]string, error) {
	var cancelled []NotificationModel
	err := r.db.WithContext(ctx).
		Model(&cancelled).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where(cond+" AND status = ?", arg, domain.StatusPending).
		Updates(map[string]any{
			"status":       domain.StatusCancelled,
			"available_at": nil,
		}).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cancelled))
	for i := range cancelled {
		ids = append(ids, cancelled[i].ID)
	}
	return ids, nil
}

func (r *GormNotificationRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND available_at IS NOT NULL AND available_at <= ?", domain.StatusPending, now.UTC()).
			Order("available_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil || len(models) == 0 {
			return err
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
			models[i].AvailableAt = nil
		}

		return tx.Model(&NotificationModel{}).
			Where("id IN ?", ids).
			Update("available_at", nil).Error
	})
	if err != nil {
		return nil, err
	}

	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) Rearm(ctx context.Context, id string, availableAt time.Time) error {
	return r.transition(ctx, id, domain.StatusPending, map[string]any{
		"available_at": availableAt.UTC(),
	})
}

func (r *GormNotificationRepo) GetStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND processing_started_at < ?", domain.StatusProcessing, cutoff.UTC()).
		Order("processing_started_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

// GetStalePending returns pending notifications that have no available_at and
// have not been touched since cutoff, e.g. after a crash between claim and publish.
func (r *GormNotificationRepo) GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND available_at IS NULL AND updated_at < ?", domain.StatusPending, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) GetRetryableFailed(ctx context.Context, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND retryable = ? AND retry_count < max_retries", domain.StatusFailed, true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) RearmFailed(ctx context.Context, id string, availableAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND retryable = ? AND retry_count < max_retries", id, domain.StatusFailed, true).
		Updates(map[string]any{
			"status":        domain.StatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"available_at":  availableAt.UTC(),
			"error_message": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) CountInFlightByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []domain.Status{domain.StatusPending, domain.StatusProcessing}).
		Count(&count).Error
	return count, err
}

type statusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int           `gorm:"column:count"`
}

func (r *GormNotificationRepo) GetBulkStats(ctx context.Context, bulkID string) (domain.BulkStats, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) as count").
		Where("bulk_id = ?", bulkID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.BulkStats{}, err
	}

	var stats domain.BulkStats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case domain.StatusSent, domain.StatusDelivered:
			stats.Succeeded += row.Count
		case domain.StatusFailed, domain.StatusCancelled:
			stats.Failed += row.Count
		default:
			stats.Open += row.Count
		}
	}
	return stats, nil
}

// transition applies updates only while the notification is in status from.
// A missing row yields ErrNotFound and a status mismatch ErrConflict.
func (r *GormNotificationRepo) transition(ctx context.Context, id string, from domain.Status, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}
