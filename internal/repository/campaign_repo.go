package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/gorm"
)

type CampaignListParams struct {
	MerchantID string
	Status     *domain.CampaignStatus
	Page       int
	PageSize   int
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, params CampaignListParams) ([]domain.Campaign, int64, error)
	// TransitionStatus moves the campaign to `to` only while its status is one of from.
	// It reports false when the campaign was in another status.
	TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, fields map[string]any) (bool, error)
	SetAudience(ctx context.Context, id string, records []map[string]any, estimated int) error
	SetEstimatedRecipients(ctx context.Context, id string, estimated int) error
	IncrementFailed(ctx context.Context, id string, n int) error
	UpdateMetrics(ctx context.Context, id string, stats domain.CampaignStats) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model, err := campaignModelFromDomain(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	created, err := campaignModelToDomain(model)
	if err != nil {
		return err
	}
	*c = *created
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model)
}

func (r *GormCampaignRepo) List(ctx context.Context, params CampaignListParams) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&CampaignModel{})
	if params.MerchantID != "" {
		query = query.Where("merchant_id = ?", params.MerchantID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
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

	var models []CampaignModel
	err := query.
		Omit("audience_data").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	campaigns, err := campaignModelsToDomain(models)
	return campaigns, total, err
}

func (r *GormCampaignRepo) TransitionStatus(
	ctx context.Context,
	id string,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
	fields map[string]any,
) (bool, error) {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormCampaignRepo) SetAudience(ctx context.Context, id string, records []map[string]any, estimated int) error {
	raw, err := marshalRecords(records)
	if err != nil {
		return err
	}
	return r.update(ctx, id, map[string]any{
		"audience_data":        raw,
		"estimated_recipients": estimated,
	})
}

func (r *GormCampaignRepo) SetEstimatedRecipients(ctx context.Context, id string, estimated int) error {
	return r.update(ctx, id, map[string]any{
		"estimated_recipients": estimated,
		"audience_data":        nil,
	})
}

func (r *GormCampaignRepo) IncrementFailed(ctx context.Context, id string, n int) error {
	return r.update(ctx, id, map[string]any{
		"total_failed": gorm.Expr("total_failed + ?", n),
	})
}

func (r *GormCampaignRepo) UpdateMetrics(ctx context.Context, id string, stats domain.CampaignStats) error {
	return r.update(ctx, id, map[string]any{
		"actual_recipients": stats.Linked,
		"total_sent":        stats.Sent,
		"total_delivered":   stats.Delivered,
		"total_failed":      stats.Failed,
		"total_opened":      stats.Opened,
		"total_clicked":     stats.Clicked,
	})
}

func (r *GormCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.CampaignStatusScheduled, now.UTC()).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignModelsToDomain(models)
}

func (r *GormCampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Omit("audience_data").
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignModelsToDomain(models)
}

func (r *GormCampaignRepo) update(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func campaignModelsToDomain(models []CampaignModel) ([]domain.Campaign, error) {
	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		c, err := campaignModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, nil
}

type CampaignEventRepository interface {
	Create(ctx context.Context, e *domain.CampaignEvent) error
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error)
}

type GormCampaignEventRepo struct {
	db *gorm.DB
}

func NewGormCampaignEventRepo(db *gorm.DB) *GormCampaignEventRepo {
	return &GormCampaignEventRepo{db: db}
}

func (r *GormCampaignEventRepo) Create(ctx context.Context, e *domain.CampaignEvent) error {
	model := campaignEventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *campaignEventModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignEventRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error) {
	var models []CampaignEventModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.CampaignEvent, 0, len(models))
	for i := range models {
		events = append(events, *campaignEventModelToDomain(&models[i]))
	}
	return events, nil
}
