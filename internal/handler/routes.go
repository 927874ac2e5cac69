package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type RouteDeps struct {
	Notifications NotificationService
	Campaigns     CampaignService
	Bulks         BulkService
	Providers     ProviderStore
	Merchants     MerchantSettingsStore
	Limits        RuleChecker
	APIKeyPerHour int
}

// RegisterRoutes mounts the merchant API under /v1.
func RegisterRoutes(router fiber.Router, deps RouteDeps) error {
	notifications, err := NewNotificationHandler(deps.Notifications)
	if err != nil {
		return err
	}
	campaigns, err := NewCampaignHandler(deps.Campaigns)
	if err != nil {
		return err
	}
	bulks, err := NewBulkHandler(deps.Bulks)
	if err != nil {
		return err
	}
	settings, err := NewSettingsHandler(deps.Providers, deps.Merchants)
	if err != nil {
		return fmt.Errorf("settings routes: %w", err)
	}

	v1 := router.Group("/v1", RequireMerchant(), APIKeyRateLimit(deps.Limits, deps.APIKeyPerHour), Correlation())
	notifications.register(v1)
	campaigns.register(v1)
	bulks.register(v1)
	settings.register(v1)
	return nil
}
