package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
)

type ProviderStore interface {
	List(ctx context.Context, channel *domain.Channel) ([]domain.ProviderConfig, error)
}

type MerchantSettingsStore interface {
	Get(ctx context.Context, merchantID string) (*domain.MerchantSettings, error)
	Upsert(ctx context.Context, s *domain.MerchantSettings) error
}

// SettingsHandler exposes provider configuration and per-merchant settings.
type SettingsHandler struct {
	providers ProviderStore
	merchants MerchantSettingsStore
	now       func() time.Time
}

func NewSettingsHandler(providers ProviderStore, merchants MerchantSettingsStore) (*SettingsHandler, error) {
	if providers == nil {
		return nil, fmt.Errorf("provider store is required")
	}
	if merchants == nil {
		return nil, fmt.Errorf("merchant settings store is required")
	}
	return &SettingsHandler{providers: providers, merchants: merchants, now: time.Now}, nil
}

func (h *SettingsHandler) register(v1 fiber.Router) {
	v1.Get("/providers", h.ListProviders)
	v1.Get("/settings", h.GetSettings)
	v1.Put("/settings", h.UpdateSettings)
}

type providerResponse struct {
	Name               string `json:"name"`
	Channel            string `json:"channel"`
	Active             bool   `json:"active"`
	Priority           int    `json:"priority"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
	RateLimitPerHour   int    `json:"rateLimitPerHour"`
	Driver             string `json:"driver,omitempty"`
}

type settingsRequest struct {
	PreferredProviders map[string]string `json:"preferredProviders"`
	DailyLimits        map[string]int    `json:"dailyLimits"`
}

type settingsResponse struct {
	MerchantID         string            `json:"merchantId"`
	PreferredProviders map[string]string `json:"preferredProviders"`
	DailyLimits        map[string]int    `json:"dailyLimits"`
	SentToday          map[string]int    `json:"sentToday"`
}

// ListProviders never exposes provider credentials.
func (h *SettingsHandler) ListProviders(c *fiber.Ctx) error {
	var channel *domain.Channel
	if raw := strings.TrimSpace(c.Query("channel")); raw != "" {
		parsed, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return err
		}
		channel = &parsed
	}

	providers, err := h.providers.List(c.UserContext(), channel)
	if err != nil {
		return err
	}
	data := make([]providerResponse, 0, len(providers))
	for i := range providers {
		p := &providers[i]
		data = append(data, providerResponse{
			Name:               p.Name,
			Channel:            p.Channel.String(),
			Active:             p.Active,
			Priority:           p.Priority,
			RateLimitPerMinute: p.RateLimitPerMinute,
			RateLimitPerHour:   p.RateLimitPerHour,
			Driver:             p.Driver(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.load(c)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toSettingsResponse(settings, h.now()))
}

func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	settings, err := h.load(c)
	if err != nil {
		return err
	}

	for raw, name := range req.PreferredProviders {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return err
		}
		settings.PreferredProviders[channel] = strings.TrimSpace(name)
	}
	for raw, limit := range req.DailyLimits {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return err
		}
		if limit < 0 {
			return fmt.Errorf("%w: daily limit for %s must be >= 0", domain.ErrValidation, channel)
		}
		settings.DailyLimits[channel] = limit
	}

	if err := h.merchants.Upsert(c.UserContext(), settings); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toSettingsResponse(settings, h.now()))
}

func (h *SettingsHandler) load(c *fiber.Ctx) (*domain.MerchantSettings, error) {
	settings, err := h.merchants.Get(c.UserContext(), merchantID(c))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewMerchantSettings(merchantID(c), h.now()), nil
	}
	return settings, err
}

func toSettingsResponse(s *domain.MerchantSettings, now time.Time) settingsResponse {
	resp := settingsResponse{
		MerchantID:         s.MerchantID,
		PreferredProviders: make(map[string]string, len(domain.Channels)),
		DailyLimits:        make(map[string]int, len(domain.Channels)),
		SentToday:          make(map[string]int, len(domain.Channels)),
	}
	for _, ch := range domain.Channels {
		resp.PreferredProviders[ch.String()] = s.PreferredProvider(ch)
		resp.DailyLimits[ch.String()] = s.DailyLimit(ch)
		resp.SentToday[ch.String()] = s.UsageToday(ch, now)
	}
	return resp
}
