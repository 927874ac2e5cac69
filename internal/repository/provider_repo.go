package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProviderRepository interface {
	GetActiveByName(ctx context.Context, channel domain.Channel, name string) (*domain.ProviderConfig, error)
	// GetFirstActive returns the active provider with the lowest priority value for channel.
	GetFirstActive(ctx context.Context, channel domain.Channel) (*domain.ProviderConfig, error)
	Upsert(ctx context.Context, p *domain.ProviderConfig) error
	List(ctx context.Context, channel *domain.Channel) ([]domain.ProviderConfig, error)
}

type GormProviderRepo struct {
	db *gorm.DB
}

func NewGormProviderRepo(db *gorm.DB) *GormProviderRepo {
	return &GormProviderRepo{db: db}
}

func (r *GormProviderRepo) GetActiveByName(ctx context.Context, channel domain.Channel, name string) (*domain.ProviderConfig, error) {
	var model ProviderModel
	err := r.db.WithContext(ctx).
		Where("channel = ? AND name = ? AND active = ?", channel, name, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return providerModelToDomain(&model), nil
}

func (r *GormProviderRepo) GetFirstActive(ctx context.Context, channel domain.Channel) (*domain.ProviderConfig, error) {
	var model ProviderModel
	err := r.db.WithContext(ctx).
		Where("channel = ? AND active = ?", channel, true).
		Order("priority ASC, name ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return providerModelToDomain(&model), nil
}

func (r *GormProviderRepo) Upsert(ctx context.Context, p *domain.ProviderConfig) error {
	model := providerModelFromDomain(p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"active", "rate_limit_per_minute", "rate_limit_per_hour", "priority", "config", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if p != nil {
		*p = *providerModelToDomain(model)
	}
	return nil
}

func (r *GormProviderRepo) List(ctx context.Context, channel *domain.Channel) ([]domain.ProviderConfig, error) {
	query := r.db.WithContext(ctx)
	if channel != nil {
		query = query.Where("channel = ?", *channel)
	}

	var models []ProviderModel
	if err := query.Order("channel ASC, priority ASC, name ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	providers := make([]domain.ProviderConfig, 0, len(models))
	for i := range models {
		providers = append(providers, *providerModelToDomain(&models[i]))
	}
	return providers, nil
}
