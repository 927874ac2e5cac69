package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
)

const (
	HeaderMerchantID = "X-Merchant-ID"
	HeaderAPIKey     = "X-API-Key"

	merchantLocal = "merchantId"
)

type RuleChecker interface {
	Check(ctx context.Context, rule ratelimit.Rule) (bool, error)
}

// RequireMerchant rejects requests without a merchant identity.
func RequireMerchant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		merchantID := strings.TrimSpace(c.Get(HeaderMerchantID))
		if merchantID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing "+HeaderMerchantID+" header")
		}
		c.Locals(merchantLocal, merchantID)
		return c.Next()
	}
}

// APIKeyRateLimit counts requests per API key per hour. Requests without a
// key are counted against the merchant.
func APIKeyRateLimit(checker RuleChecker, perHour int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if checker == nil || perHour <= 0 {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(HeaderAPIKey))
		if key == "" {
			key = "merchant:" + merchantID(c)
		}

		allowed, err := checker.Check(c.Context(), ratelimit.APIKeyRule(key, perHour))
		if err != nil {
			return err
		}
		if !allowed {
			c.Set(fiber.HeaderRetryAfter, "3600")
			return fmt.Errorf("%w: %d requests per hour", domain.ErrRateLimited, perHour)
		}
		return c.Next()
	}
}

// Correlation copies the request correlation and merchant ids into the
// user context so services log them.
func Correlation() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if id := requestCorrelationID(c); id != "" {
			ctx = observability.WithCorrelationID(ctx, id)
		}
		if id := merchantID(c); id != "" {
			ctx = observability.WithMerchantID(ctx, id)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func merchantID(c *fiber.Ctx) string {
	value, _ := c.Locals(merchantLocal).(string)
	return value
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get("X-Correlation-ID")); value != "" {
		return value
	}
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

// owned hides resources of other merchants behind a not found error.
func owned(c *fiber.Ctx, owner string, entity string, id string) error {
	if owner != merchantID(c) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, entity, id)
	}
	return nil
}
