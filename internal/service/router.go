package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

// ProviderRouter picks the provider configuration used for a send.
type ProviderRouter struct {
	providers repository.ProviderRepository
	merchants repository.MerchantSettingsRepository
	logger    *zap.Logger
}

func NewProviderRouter(
	providers repository.ProviderRepository,
	merchants repository.MerchantSettingsRepository,
	logger *zap.Logger,
) (*ProviderRouter, error) {
	if providers == nil {
		return nil, fmt.Errorf("provider repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderRouter{providers: providers, merchants: merchants, logger: logger}, nil
}

// Select returns the merchant's preferred provider when an active row with
// that name exists, otherwise the active provider with the lowest priority
// value. It returns nil when the channel has no active provider.
func (r *ProviderRouter) Select(ctx context.Context, channel domain.Channel, merchantID string) (*domain.ProviderConfig, error) {
	preferred := r.preferredName(ctx, channel, merchantID)
	if preferred != "" {
		cfg, err := r.providers.GetActiveByName(ctx, channel, preferred)
		switch {
		case err == nil:
			return cfg, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("failed to load preferred provider: %w", err)
		}
	}

	cfg, err := r.providers.GetFirstActive(ctx, channel)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active provider: %w", err)
	}
	return cfg, nil
}

func (r *ProviderRouter) preferredName(ctx context.Context, channel domain.Channel, merchantID string) string {
	if r.merchants == nil || merchantID == "" {
		return domain.DefaultPreferredProviders[channel]
	}

	settings, err := r.merchants.Get(ctx, merchantID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("merchant settings unavailable, using default provider preference",
				zap.String("merchantId", merchantID),
				zap.Error(err),
			)
		}
		return domain.DefaultPreferredProviders[channel]
	}
	return settings.PreferredProvider(channel)
}
