package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/service"
)

type BulkService interface {
	SendBulk(ctx context.Context, req service.BulkRequest) (*domain.BulkNotification, error)
	Get(ctx context.Context, id string) (*domain.BulkNotification, error)
	Cancel(ctx context.Context, id string) (*domain.BulkNotification, error)
	Reconcile(ctx context.Context, id string) (*domain.BulkNotification, error)
}

type BulkHandler struct {
	service BulkService
}

func NewBulkHandler(service BulkService) (*BulkHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("bulk service is required")
	}
	return &BulkHandler{service: service}, nil
}

func (h *BulkHandler) register(v1 fiber.Router) {
	v1.Post("/bulk", h.SendBulk)
	v1.Get("/bulk/:id", h.GetBulk)
	v1.Post("/bulk/:id/cancel", h.CancelBulk)
}

type sendBulkRequest struct {
	Name        string           `json:"name"`
	Channel     string           `json:"channel"`
	Priority    string           `json:"priority"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Recipients  []map[string]any `json:"recipients"`
	Metadata    map[string]any   `json:"metadata"`
	ScheduledAt *time.Time       `json:"scheduledAt,omitempty"`
}

type bulkResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	Channel         string     `json:"channel"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	TotalRecipients int        `json:"totalRecipients"`
	ProcessedCount  int        `json:"processedCount"`
	SuccessCount    int        `json:"successCount"`
	FailedCount     int        `json:"failedCount"`
	SkippedCount    int        `json:"skippedCount"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func (h *BulkHandler) SendBulk(c *fiber.Ctx) error {
	var req sendBulkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return err
	}

	bulk, err := h.service.SendBulk(c.UserContext(), service.BulkRequest{
		MerchantID:  merchantID(c),
		Name:        req.Name,
		Channel:     channel,
		Priority:    domain.Priority(strings.ToLower(strings.TrimSpace(req.Priority))),
		Subject:     req.Subject,
		Body:        req.Body,
		Recipients:  req.Recipients,
		Metadata:    req.Metadata,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(toBulkResponse(bulk))
}

// GetBulk reconciles a processing job before returning it so counters are current.
func (h *BulkHandler) GetBulk(c *fiber.Ctx) error {
	bulk, err := h.ownedBulk(c)
	if err != nil {
		return err
	}
	if bulk.Status == domain.BulkStatusProcessing {
		if bulk, err = h.service.Reconcile(c.UserContext(), bulk.ID); err != nil {
			return err
		}
	}
	return c.Status(fiber.StatusOK).JSON(toBulkResponse(bulk))
}

func (h *BulkHandler) CancelBulk(c *fiber.Ctx) error {
	bulk, err := h.ownedBulk(c)
	if err != nil {
		return err
	}
	cancelled, err := h.service.Cancel(c.UserContext(), bulk.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toBulkResponse(cancelled))
}

func (h *BulkHandler) ownedBulk(c *fiber.Ctx) (*domain.BulkNotification, error) {
	id := strings.TrimSpace(c.Params("id"))
	bulk, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(c, bulk.MerchantID, "bulk", id); err != nil {
		return nil, err
	}
	return bulk, nil
}

func toBulkResponse(b *domain.BulkNotification) bulkResponse {
	if b == nil {
		return bulkResponse{}
	}
	return bulkResponse{
		ID:              b.ID,
		Name:            b.Name,
		Channel:         b.Channel.String(),
		Priority:        b.Priority.String(),
		Status:          b.Status.String(),
		TotalRecipients: b.TotalRecipients,
		ProcessedCount:  b.ProcessedCount,
		SuccessCount:    b.SuccessCount,
		FailedCount:     b.FailedCount,
		SkippedCount:    b.SkippedCount,
		ScheduledAt:     b.ScheduledAt,
		StartedAt:       b.StartedAt,
		CompletedAt:     b.CompletedAt,
		CreatedAt:       b.CreatedAt,
	}
}
