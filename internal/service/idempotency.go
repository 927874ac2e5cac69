package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdempotencyGuard deduplicates notification creation per merchant and key.
// The partial unique index on (merchant_id, idempotency_key) decides races.
type IdempotencyGuard struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

func NewIdempotencyGuard(notifications repository.NotificationRepository, logger *zap.Logger) (*IdempotencyGuard, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyGuard{notifications: notifications, logger: logger}, nil
}

// Check returns the notification already created for key, or nil.
func (g *IdempotencyGuard) Check(ctx context.Context, merchantID, key string) (*domain.Notification, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}

	existing, err := g.notifications.GetByIdempotencyKey(ctx, merchantID, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return existing, nil
}

// Create inserts n. When a concurrent request won the race for the same key it
// returns the stored notification and created=false.
func (g *IdempotencyGuard) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
	err := g.notifications.Create(ctx, n)
	if err == nil {
		return n, true, nil
	}
	if n.IdempotencyKey == nil || !isUniqueViolationError(err) {
		return nil, false, err
	}

	existing, lookupErr := g.notifications.GetByIdempotencyKey(ctx, n.MerchantID, *n.IdempotencyKey)
	if lookupErr != nil {
		return nil, false, fmt.Errorf("failed to load existing notification after idempotency conflict: %w", lookupErr)
	}
	g.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("merchantId", n.MerchantID),
		zap.String("idempotencyKey", *n.IdempotencyKey),
	)
	return existing, false, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
