package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CampaignRecipientRepository interface {
	// CreateBatch inserts recipients, skipping addresses already present for the campaign.
	CreateBatch(ctx context.Context, recipients []*domain.CampaignRecipient) (int64, error)
	ListByCampaign(ctx context.Context, campaignID string, status *domain.RecipientStatus) ([]domain.CampaignRecipient, error)
	ListPendingUnlinked(ctx context.Context, campaignID string, limit int) ([]domain.CampaignRecipient, error)
	CountByCampaign(ctx context.Context, campaignID string) (int64, error)
	// AttachNotification creates n and links it to the recipient in one
	// transaction. It returns a *domain.StateError once the owning campaign
	// is no longer running and domain.ErrConflict when the recipient was
	// already linked or finished.
	AttachNotification(ctx context.Context, recipientID string, n *domain.Notification) error
	MarkFailed(ctx context.Context, recipientID string, errMsg string) error
	UnlinkNotifications(ctx context.Context, campaignID string, notificationIDs []string) (int64, error)
	SyncFromNotifications(ctx context.Context, campaignID string) (int64, error)
	Stats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
}

type GormCampaignRecipientRepo struct {
	db *gorm.DB
}

func NewGormCampaignRecipientRepo(db *gorm.DB) *GormCampaignRecipientRepo {
	return &GormCampaignRecipientRepo{db: db}
}

func (r *GormCampaignRecipientRepo) CreateBatch(ctx context.Context, recipients []*domain.CampaignRecipient) (int64, error) {
	models := make([]CampaignRecipientModel, 0, len(recipients))
	for _, rec := range recipients {
		if model := recipientModelFromDomain(rec); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "address"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormCampaignRecipientRepo) ListByCampaign(ctx context.Context, campaignID string, status *domain.RecipientStatus) ([]domain.CampaignRecipient, error) {
	query := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var models []CampaignRecipientModel
	if err := query.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return recipientModelsToDomain(models), nil
}

func (r *GormCampaignRecipientRepo) ListPendingUnlinked(ctx context.Context, campaignID string, limit int) ([]domain.CampaignRecipient, error) {
	var models []CampaignRecipientModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ? AND notification_id IS NULL", campaignID, domain.RecipientStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return recipientModelsToDomain(models), nil
}

func (r *GormCampaignRecipientRepo) CountByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("campaign_id = ?", campaignID).
		Count(&count).Error
	return count, err
}

func (r *GormCampaignRecipientRepo) AttachNotification(ctx context.Context, recipientID string, n *domain.Notification) error {
	if n.CampaignID == nil {
		return fmt.Errorf("%w: notification %s has no campaign", domain.ErrValidation, n.ID)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The share lock makes a concurrent pause or cancel wait for this
		// insert, so its pending-notification sweep sees the new row.
		var campaign CampaignModel
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "status").
			Where("id = ?", *n.CampaignID).
			Take(&campaign).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: campaign %s", domain.ErrNotFound, *n.CampaignID)
			}
			return err
		}
		if status := campaign.Status; status != domain.CampaignStatusRunning {
			return domain.NewStateError("campaign", campaign.ID, "enqueue recipients of", status, domain.CampaignStatusRunning)
		}

		model := notificationModelFromDomain(n)
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		result := tx.Model(&CampaignRecipientModel{}).
			Where("id = ? AND status = ? AND notification_id IS NULL", recipientID, domain.RecipientStatusPending).
			Update("notification_id", model.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		*n = *notificationModelToDomain(model)
		return nil
	})
}

func (r *GormCampaignRecipientRepo) MarkFailed(ctx context.Context, recipientID string, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("id = ? AND status = ?", recipientID, domain.RecipientStatusPending).
		Updates(map[string]any{
			"status":        domain.RecipientStatusFailed,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// UnlinkNotifications detaches cancelled notifications so the recipients can be
// dispatched again when the campaign resumes.
func (r *GormCampaignRecipientRepo) UnlinkNotifications(ctx context.Context, campaignID string, notificationIDs []string) (int64, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("campaign_id = ? AND notification_id IN ?", campaignID, notificationIDs).
		Updates(map[string]any{
			"notification_id": nil,
			"status":          domain.RecipientStatusPending,
		})
	return result.RowsAffected, result.Error
}

const syncRecipientsSQL = `
UPDATE campaign_recipients AS r
SET status = CASE n.status
		WHEN 'sent' THEN 'sent'
		WHEN 'delivered' THEN 'delivered'
		WHEN 'failed' THEN 'failed'
		WHEN 'cancelled' THEN 'failed'
		ELSE 'pending'
	END,
	sent_at = n.sent_at,
	delivered_at = n.delivered_at,
	error_message = n.error_message,
	updated_at = NOW()
FROM notifications AS n
WHERE r.notification_id = n.id
	AND r.campaign_id = ?
	AND r.status <> 'opted_out'`

func (r *GormCampaignRecipientRepo) SyncFromNotifications(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).Exec(syncRecipientsSQL, campaignID)
	return result.RowsAffected, result.Error
}

type recipientStatusCount struct {
	Status domain.RecipientStatus `gorm:"column:status"`
	Count  int                    `gorm:"column:count"`
	Linked int                    `gorm:"column:linked"`
}

func (r *GormCampaignRecipientRepo) Stats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	var rows []recipientStatusCount
	err := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Select("status, COUNT(*) AS count, COUNT(notification_id) AS linked").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.CampaignStats{}, err
	}

	var stats domain.CampaignStats
	for _, row := range rows {
		stats.Recipients += row.Count
		stats.Linked += row.Linked
		switch row.Status {
		case domain.RecipientStatusPending:
			stats.Pending += row.Count
		case domain.RecipientStatusSent:
			stats.Sent += row.Count
		case domain.RecipientStatusDelivered:
			stats.Sent += row.Count
			stats.Delivered += row.Count
		case domain.RecipientStatusFailed:
			stats.Failed += row.Count
		case domain.RecipientStatusOptedOut:
			stats.OptedOut += row.Count
		}
	}
	return stats, nil
}

func recipientModelsToDomain(models []CampaignRecipientModel) []domain.CampaignRecipient {
	recipients := make([]domain.CampaignRecipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients
}
