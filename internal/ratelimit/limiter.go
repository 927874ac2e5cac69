package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"go.uber.org/zap"
)

// Limiter is a fixed-window counter shared by every worker process.
// Allow increments the scope's counter for the current window and reports
// whether the call stays within limit.
type Limiter interface {
	Allow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, error)
}

// Policy decides what happens when the limiter backend is unavailable.
type Policy int

const (
	// FailClosed rejects the call when the counter cannot be evaluated.
	FailClosed Policy = iota
	// FailOpen admits the call and logs a warning.
	FailOpen
)

func (p Policy) String() string {
	if p == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// Rule binds a scope to its limit, window and failure policy.
type Rule struct {
	Name   string
	Scope  string
	Limit  int64
	Window time.Duration
	Policy Policy
}

// MerchantChannelRule limits a merchant's hourly sends on one channel.
func MerchantChannelRule(merchantID string, channel domain.Channel, perHour int) Rule {
	return Rule{
		Name:   "merchant_channel",
		Scope:  fmt.Sprintf("merchant:%s:%s:hour", normalize(merchantID), channel),
		Limit:  int64(perHour),
		Window: time.Hour,
		Policy: FailOpen,
	}
}

// ProviderMinuteRule limits calls to a provider per minute.
func ProviderMinuteRule(provider string, perMinute int) Rule {
	if perMinute <= 0 {
		perMinute = domain.DefaultProviderRatePerMinute
	}
	return Rule{
		Name:   "provider_minute",
		Scope:  fmt.Sprintf("provider:%s:minute", normalize(provider)),
		Limit:  int64(perMinute),
		Window: time.Minute,
		Policy: FailClosed,
	}
}

// ProviderHourRule limits calls to a provider per hour.
func ProviderHourRule(provider string, perHour int) Rule {
	if perHour <= 0 {
		perHour = domain.DefaultProviderRatePerHour
	}
	return Rule{
		Name:   "provider_hour",
		Scope:  fmt.Sprintf("provider:%s:hour", normalize(provider)),
		Limit:  int64(perHour),
		Window: time.Hour,
		Policy: FailClosed,
	}
}

// APIKeyRule limits API requests per key per hour.
func APIKeyRule(apiKey string, perHour int) Rule {
	return Rule{
		Name:   "api_key",
		Scope:  fmt.Sprintf("apikey:%s:hour", normalize(apiKey)),
		Limit:  int64(perHour),
		Window: time.Hour,
		Policy: FailOpen,
	}
}

// BulkOperationRule limits bulk submissions per merchant per hour.
func BulkOperationRule(merchantID string, perHour int) Rule {
	return Rule{
		Name:   "bulk_operation",
		Scope:  fmt.Sprintf("bulk:%s:hour", normalize(merchantID)),
		Limit:  int64(perHour),
		Window: time.Hour,
		Policy: FailOpen,
	}
}

// Checker evaluates rules against a Limiter and applies their failure policy.
type Checker struct {
	limiter Limiter
	logger  *zap.Logger
}

func NewChecker(limiter Limiter, logger *zap.Logger) (*Checker, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{limiter: limiter, logger: logger}, nil
}

// Check reports whether the rule admits one more call. A non-positive limit
// disables the rule. Backend errors are returned only for fail-closed rules.
func (c *Checker) Check(ctx context.Context, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}

	allowed, err := c.limiter.Allow(ctx, rule.Scope, rule.Limit, rule.Window)
	if err == nil {
		return allowed, nil
	}

	if rule.Policy == FailOpen {
		c.logger.Warn("rate limiter unavailable, admitting request",
			zap.String("rule", rule.Name),
			zap.String("scope", rule.Scope),
			zap.Error(err),
		)
		return true, nil
	}

	return false, fmt.Errorf("rate limit %s unavailable: %w", rule.Name, err)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
