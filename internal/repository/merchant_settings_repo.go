package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MerchantSettingsRepository interface {
	Get(ctx context.Context, merchantID string) (*domain.MerchantSettings, error)
	Upsert(ctx context.Context, s *domain.MerchantSettings) error
	// IncrementUsage counts one send for channel, resetting every counter first
	// when the stored usage date is before today.
	IncrementUsage(ctx context.Context, merchantID string, channel domain.Channel, today time.Time) error
}

type GormMerchantSettingsRepo struct {
	db *gorm.DB
}

func NewGormMerchantSettingsRepo(db *gorm.DB) *GormMerchantSettingsRepo {
	return &GormMerchantSettingsRepo{db: db}
}

func (r *GormMerchantSettingsRepo) Get(ctx context.Context, merchantID string) (*domain.MerchantSettings, error) {
	var model MerchantSettingsModel
	err := r.db.WithContext(ctx).First(&model, "merchant_id = ?", merchantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return merchantSettingsModelToDomain(&model), nil
}

func (r *GormMerchantSettingsRepo) Upsert(ctx context.Context, s *domain.MerchantSettings) error {
	model := merchantSettingsModelFromDomain(s)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "merchant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"preferred_providers",
				"daily_sms_limit", "daily_email_limit", "daily_push_limit", "daily_whatsapp_limit",
				"updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if s != nil {
		*s = *merchantSettingsModelToDomain(model)
	}
	return nil
}

var usageColumns = map[domain.Channel]string{
	domain.ChannelSMS:      "sms_sent_today",
	domain.ChannelEmail:    "email_sent_today",
	domain.ChannelPush:     "push_sent_today",
	domain.ChannelWhatsApp: "whatsapp_sent_today",
}

func (r *GormMerchantSettingsRepo) IncrementUsage(ctx context.Context, merchantID string, channel domain.Channel, today time.Time) error {
	target, ok := usageColumns[channel]
	if !ok {
		return fmt.Errorf("%w: unsupported channel %q", domain.ErrValidation, channel)
	}
	day := domain.TruncateDay(today)

	seed := merchantSettingsModelFromDomain(domain.NewMerchantSettings(merchantID, day))
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(seed).Error; err != nil {
		return err
	}

	updates := make(map[string]any, len(usageColumns)+1)
	for _, col := range usageColumns {
		if col == target {
			updates[col] = gorm.Expr("CASE WHEN usage_reset_date < ? THEN 1 ELSE "+col+" + 1 END", day)
			continue
		}
		updates[col] = gorm.Expr("CASE WHEN usage_reset_date < ? THEN 0 ELSE "+col+" END", day)
	}
	updates["usage_reset_date"] = gorm.Expr("GREATEST(usage_reset_date, ?)", day)

	return r.db.WithContext(ctx).
		Model(&MerchantSettingsModel{}).
		Where("merchant_id = ?", merchantID).
		Updates(updates).Error
}
