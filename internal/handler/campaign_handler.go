package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"github.com/kursadbilgin/multichannel-notifier/internal/service"
)

type CampaignService interface {
	Create(ctx context.Context, req service.CreateCampaignRequest) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error)
	ImportRecipients(ctx context.Context, id string, records []map[string]any) (service.ExpandResult, error)
	Launch(ctx context.Context, id string, opts service.LaunchOptions) (*domain.Campaign, error)
	Pause(ctx context.Context, id string) (*domain.Campaign, error)
	Resume(ctx context.Context, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id string) (*domain.Campaign, error)
	Duplicate(ctx context.Context, id string, opts service.DuplicateOptions) (*domain.Campaign, error)
	Recipients(ctx context.Context, id string, status *domain.RecipientStatus) ([]domain.CampaignRecipient, error)
	Events(ctx context.Context, id string) ([]domain.CampaignEvent, error)
	ReconcileMetrics(ctx context.Context, id string) (*domain.Campaign, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func (h *CampaignHandler) register(v1 fiber.Router) {
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns", h.ListCampaigns)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Post("/campaigns/:id/recipients", h.ImportRecipients)
	v1.Get("/campaigns/:id/recipients", h.ListRecipients)
	v1.Get("/campaigns/:id/events", h.ListEvents)
	v1.Post("/campaigns/:id/launch", h.Launch)
	v1.Post("/campaigns/:id/pause", h.Pause)
	v1.Post("/campaigns/:id/resume", h.Resume)
	v1.Post("/campaigns/:id/cancel", h.Cancel)
	v1.Post("/campaigns/:id/duplicate", h.Duplicate)
	v1.Post("/campaigns/:id/metrics/refresh", h.RefreshMetrics)
}

type createCampaignRequest struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Channel         string           `json:"channel"`
	TemplateSubject string           `json:"templateSubject"`
	TemplateBody    string           `json:"templateBody"`
	TargetAudience  map[string]any   `json:"targetAudience"`
	Audience        []map[string]any `json:"audience"`
	BudgetLimit     *float64         `json:"budgetLimit,omitempty"`
	DailyLimit      *int             `json:"dailyLimit,omitempty"`
	Settings        map[string]any   `json:"settings"`
}

type importRecipientsRequest struct {
	Recipients []map[string]any `json:"recipients"`
}

type launchRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

type duplicateRequest struct {
	Name        string `json:"name"`
	PendingOnly bool   `json:"pendingOnly"`
}

type campaignMetrics struct {
	Estimated int `json:"estimatedRecipients"`
	Actual    int `json:"actualRecipients"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
}

type campaignResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Channel         string          `json:"channel"`
	Status          string          `json:"status"`
	TemplateSubject string          `json:"templateSubject,omitempty"`
	TemplateBody    string          `json:"templateBody"`
	TargetAudience  map[string]any  `json:"targetAudience,omitempty"`
	BudgetLimit     *float64        `json:"budgetLimit,omitempty"`
	DailyLimit      *int            `json:"dailyLimit,omitempty"`
	Settings        map[string]any  `json:"settings,omitempty"`
	Metrics         campaignMetrics `json:"metrics"`
	ScheduledAt     *time.Time      `json:"scheduledAt,omitempty"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type recipientResponse struct {
	ID             string         `json:"id"`
	Address        string         `json:"address"`
	Data           map[string]any `json:"data,omitempty"`
	Status         string         `json:"status"`
	NotificationID *string        `json:"notificationId,omitempty"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
}

type importResponse struct {
	Total      int `json:"total"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return err
	}

	campaign, err := h.service.Create(c.UserContext(), service.CreateCampaignRequest{
		MerchantID:      merchantID(c),
		Name:            req.Name,
		Description:     req.Description,
		Channel:         channel,
		TemplateSubject: req.TemplateSubject,
		TemplateBody:    req.TemplateBody,
		TargetAudience:  req.TargetAudience,
		Audience:        req.Audience,
		BudgetLimit:     req.BudgetLimit,
		DailyLimit:      req.DailyLimit,
		Settings:        req.Settings,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.ownedCampaign(c)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	page, pageSize, err := parsePaging(c)
	if err != nil {
		return err
	}
	params := repository.CampaignListParams{MerchantID: merchantID(c), Page: page, PageSize: pageSize}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseCampaignStatusFromString(raw)
		if err != nil {
			return err
		}
		params.Status = &status
	}

	campaigns, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return err
	}
	data := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		data = append(data, toCampaignResponse(&campaigns[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *CampaignHandler) ImportRecipients(c *fiber.Ctx) error {
	var req importRecipientsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	campaign, err := h.ownedCampaign(c)
	if err != nil {
		return err
	}

	result, err := h.service.ImportRecipients(c.UserContext(), campaign.ID, req.Recipients)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(importResponse{
		Total:      result.Total,
		Created:    result.Created,
		Skipped:    result.Skipped,
		Duplicates: result.Duplicates,
	})
}

func (h *CampaignHandler) ListRecipients(c *fiber.Ctx) error {
	campaign, err := h.ownedCampaign(c)
	if err != nil {
		return err
	}
	var status *domain.RecipientStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed, err := parseRecipientStatus(raw)
		if err != nil {
			return err
		}
		status = &parsed
	}

	recipients, err := h.service.Recipients(c.UserContext(), campaign.ID, status)
	if err != nil {
		return err
	}
	data := make([]recipientResponse, 0, len(recipients))
	for _, r := range recipients {
		data = append(data, recipientResponse{
			ID:             r.ID,
			Address:        r.Address,
			Data:           r.Data,
			Status:         r.Status.String(),
			NotificationID: r.NotificationID,
			ErrorMessage:   r.ErrorMessage,
			SentAt:         r.SentAt,
			DeliveredAt:    r.DeliveredAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *CampaignHandler) ListEvents(c *fiber.Ctx) error {
	campaign, err := h.ownedCampaign(c)
	if err != nil {
		return err
	}
	events, err := h.service.Events(c.UserContext(), campaign.ID)
	if err != nil {
		return err
	}
	data := make([]eventResponse, 0, len(events))
	for _, e := range events {
		data = append(data, eventResponse{ID: e.ID, Type: e.EventType.String(), Data: e.Data, CreatedAt: e.CreatedAt})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *CampaignHandler) Launch(c *fiber.Ctx) error {
	var req launchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	return h.transition(c, func(ctx context.Context, id string) (*domain.Campaign, error) {
		return h.service.Launch(ctx, id, service.LaunchOptions{ScheduledAt: req.ScheduledAt})
	})
}

func (h *CampaignHandler) Pause(c *fiber.Ctx) error {
	return h.transition(c, h.service.Pause)
}

func (h *CampaignHandler) Resume(c *fiber.Ctx) error {
	return h.transition(c, h.service.Resume)
}

func (h *CampaignHandler) Cancel(c *fiber.Ctx) error {
	return h.transition(c, h.service.Cancel)
}

func (h *CampaignHandler) RefreshMetrics(c *fiber.Ctx) error {
	return h.transition(c, h.service.ReconcileMetrics)
}

func (h *CampaignHandler) Duplicate(c *fiber.Ctx) error {
	var req duplicateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	campaign, err := h.ownedCampaign(c)
	if err != nil {
		return err
	}

	dup, err := h.service.Duplicate(c.UserContext(), campaign.ID, service.DuplicateOptions{
		Name:        req.Name,
		PendingOnly: req.PendingOnly,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(dup))
}

func (h *CampaignHandler) transition(c *fiber.Ctx, fn func(ctx context.Context, id string) (*domain.Campaign, error)) error {
	campaign, err := h.ownedCampaign(c)
	if err != nil {
		return err
	}
	updated, err := fn(c.UserContext(), campaign.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(updated))
}

func (h *CampaignHandler) ownedCampaign(c *fiber.Ctx) (*domain.Campaign, error) {
	id := strings.TrimSpace(c.Params("id"))
	campaign, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(c, campaign.MerchantID, "campaign", id); err != nil {
		return nil, err
	}
	return campaign, nil
}

func parseRecipientStatus(raw string) (domain.RecipientStatus, error) {
	status := domain.RecipientStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case domain.RecipientStatusPending, domain.RecipientStatusSent, domain.RecipientStatusDelivered,
		domain.RecipientStatusFailed, domain.RecipientStatusOptedOut:
		return status, nil
	}
	return "", fmt.Errorf("%w: invalid recipient status %q", domain.ErrValidation, raw)
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}
	return campaignResponse{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		Channel:         c.Channel.String(),
		Status:          c.Status.String(),
		TemplateSubject: c.TemplateSubject,
		TemplateBody:    c.TemplateBody,
		TargetAudience:  c.TargetAudience,
		BudgetLimit:     c.BudgetLimit,
		DailyLimit:      c.DailyLimit,
		Settings:        c.Settings,
		Metrics: campaignMetrics{
			Estimated: c.EstimatedRecipients,
			Actual:    c.ActualRecipients,
			Sent:      c.TotalSent,
			Delivered: c.TotalDelivered,
			Failed:    c.TotalFailed,
			Opened:    c.TotalOpened,
			Clicked:   c.TotalClicked,
		},
		ScheduledAt: c.ScheduledAt,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
