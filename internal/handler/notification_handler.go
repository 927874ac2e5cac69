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

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100

	headerIdempotencyKey = "Idempotency-Key"
)

type NotificationService interface {
	SendImmediate(ctx context.Context, req service.SendRequest) (*domain.Notification, error)
	Schedule(ctx context.Context, req service.SendRequest) (*domain.Notification, error)
	Get(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	Cancel(ctx context.Context, id string) (*domain.Notification, error)
	Events(ctx context.Context, id string) ([]domain.NotificationEvent, error)
	RecordEngagement(ctx context.Context, id string, eventType domain.EventType, data map[string]any) (*domain.Notification, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func (h *NotificationHandler) register(v1 fiber.Router) {
	v1.Post("/notifications", h.SendNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Get("/notifications/:id/events", h.ListEvents)
	v1.Post("/notifications/:id/engagement", h.RecordEngagement)
}

type sendNotificationRequest struct {
	CorrelationID  string         `json:"correlationId"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Channel        string         `json:"channel"`
	Priority       string         `json:"priority"`
	Recipient      string         `json:"recipient"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body"`
	Metadata       map[string]any `json:"metadata"`
	MaxRetries     *int           `json:"maxRetries,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduledAt,omitempty"`
}

type engagementRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type notificationResponse struct {
	ID                string         `json:"id"`
	CorrelationID     string         `json:"correlationId"`
	IdempotencyKey    *string        `json:"idempotencyKey,omitempty"`
	CampaignID        *string        `json:"campaignId,omitempty"`
	BulkID            *string        `json:"bulkId,omitempty"`
	Channel           string         `json:"channel"`
	Priority          string         `json:"priority"`
	Recipient         string         `json:"recipient"`
	Subject           string         `json:"subject,omitempty"`
	Body              string         `json:"body"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Status            string         `json:"status"`
	Provider          *string        `json:"provider,omitempty"`
	ProviderMessageID *string        `json:"providerMessageId,omitempty"`
	RetryCount        int            `json:"retryCount"`
	MaxRetries        int            `json:"maxRetries"`
	ErrorMessage      *string        `json:"errorMessage,omitempty"`
	ScheduledAt       *time.Time     `json:"scheduledAt,omitempty"`
	SentAt            *time.Time     `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type eventResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

// SendNotification sends right away, or schedules when scheduledAt is set.
func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sendReq, err := toSendRequest(c, req)
	if err != nil {
		return err
	}

	var n *domain.Notification
	if sendReq.ScheduledAt != nil {
		n, err = h.service.Schedule(c.UserContext(), sendReq)
	} else {
		n, err = h.service.SendImmediate(c.UserContext(), sendReq)
	}
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(n))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	n, err := h.ownedNotification(c)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(n))
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	n, err := h.ownedNotification(c)
	if err != nil {
		return err
	}
	cancelled, err := h.service.Cancel(c.UserContext(), n.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(cancelled))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return err
	}

	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: data,
		Meta: listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

func (h *NotificationHandler) ListEvents(c *fiber.Ctx) error {
	n, err := h.ownedNotification(c)
	if err != nil {
		return err
	}
	events, err := h.service.Events(c.UserContext(), n.ID)
	if err != nil {
		return err
	}

	data := make([]eventResponse, 0, len(events))
	for _, e := range events {
		data = append(data, eventResponse{
			ID:           e.ID,
			Type:         e.EventType.String(),
			Data:         e.Data,
			ErrorMessage: e.ErrorMessage,
			CreatedAt:    e.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

// RecordEngagement accepts delivered, opened and clicked callbacks.
func (h *NotificationHandler) RecordEngagement(c *fiber.Ctx) error {
	var req engagementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	n, err := h.ownedNotification(c)
	if err != nil {
		return err
	}

	eventType := domain.EventType(strings.ToLower(strings.TrimSpace(req.Event)))
	updated, err := h.service.RecordEngagement(c.UserContext(), n.ID, eventType, req.Data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(updated))
}

func (h *NotificationHandler) ownedNotification(c *fiber.Ctx) (*domain.Notification, error) {
	id := strings.TrimSpace(c.Params("id"))
	n, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(c, n.MerchantID, "notification", id); err != nil {
		return nil, err
	}
	return n, nil
}

func toSendRequest(c *fiber.Ctx, req sendNotificationRequest) (service.SendRequest, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return service.SendRequest{}, err
	}

	var priority domain.Priority
	if strings.TrimSpace(req.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return service.SendRequest{}, err
		}
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.Get(headerIdempotencyKey))
	}
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = requestCorrelationID(c)
	}

	return service.SendRequest{
		MerchantID:     merchantID(c),
		Channel:        channel,
		Priority:       priority,
		Recipient:      req.Recipient,
		Subject:        req.Subject,
		Body:           req.Body,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
		CorrelationID:  correlationID,
		MaxRetries:     req.MaxRetries,
		ScheduledAt:    req.ScheduledAt,
	}, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	page, pageSize, err := parsePaging(c)
	if err != nil {
		return repository.ListParams{}, err
	}
	params := repository.ListParams{
		MerchantID: merchantID(c),
		Page:       page,
		PageSize:   pageSize,
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}
	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}
	if campaignID := strings.TrimSpace(c.Query("campaignId")); campaignID != "" {
		params.CampaignID = &campaignID
	}
	if bulkID := strings.TrimSpace(c.Query("bulkId")); bulkID != "" {
		params.BulkID = &bulkID
	}

	if params.From, err = parseRFC3339Query(c.Query("from"), "from"); err != nil {
		return repository.ListParams{}, err
	}
	if params.To, err = parseRFC3339Query(c.Query("to"), "to"); err != nil {
		return repository.ListParams{}, err
	}
	return params, nil
}

func parsePaging(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:                n.ID,
		CorrelationID:     n.CorrelationID,
		IdempotencyKey:    n.IdempotencyKey,
		CampaignID:        n.CampaignID,
		BulkID:            n.BulkID,
		Channel:           n.Channel.String(),
		Priority:          n.Priority.String(),
		Recipient:         n.Recipient,
		Subject:           n.Subject,
		Body:              n.Body,
		Metadata:          n.Metadata,
		Status:            n.Status.String(),
		Provider:          n.ProviderName,
		ProviderMessageID: n.ProviderMessageID,
		RetryCount:        n.RetryCount,
		MaxRetries:        n.MaxRetries,
		ErrorMessage:      n.ErrorMessage,
		ScheduledAt:       n.ScheduledAt,
		SentAt:            n.SentAt,
		DeliveredAt:       n.DeliveredAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}
