package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/provider"
	"github.com/kursadbilgin/multichannel-notifier/internal/ratelimit"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultThrottleDelay  = 30 * time.Second
	defaultRetryBaseDelay = 60 * time.Second
	defaultSendTimeout    = 10 * time.Second
)

type providerSelector interface {
	Select(ctx context.Context, channel domain.Channel, merchantID string) (*domain.ProviderConfig, error)
}

type providerResolver interface {
	Resolve(cfg domain.ProviderConfig) (provider.Provider, error)
}

type admissionChecker interface {
	Check(ctx context.Context, rule ratelimit.Rule) (bool, error)
}

type DispatcherDeps struct {
	Notifications repository.NotificationRepository
	Events        repository.EventRepository
	Merchants     repository.MerchantSettingsRepository
	Router        providerSelector
	Providers     providerResolver
	Limits        admissionChecker
}

type DispatcherConfig struct {
	ThrottleDelay  time.Duration
	RetryBaseDelay time.Duration
	SendTimeout    time.Duration
}

// Dispatcher drives one notification from pending to a terminal status or
// back to pending with a later available_at.
type Dispatcher struct {
	notifications repository.NotificationRepository
	merchants     repository.MerchantSettingsRepository
	router        providerSelector
	providers     providerResolver
	limits        admissionChecker
	events        *eventLog
	logger        *zap.Logger
	metrics       *observability.Metrics
	cfg           DispatcherConfig
	now           func() time.Time
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("provider router is required")
	}
	if deps.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = defaultThrottleDelay
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	d := &Dispatcher{
		notifications: deps.Notifications,
		merchants:     deps.Merchants,
		router:        deps.Router,
		providers:     deps.Providers,
		limits:        deps.Limits,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
	d.events = &eventLog{notifications: deps.Events, logger: logger, now: func() time.Time { return d.now() }}
	return d, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch processes the notification with the given id. A nil error means the
// message can be acknowledged: either the notification moved on or there was
// nothing to do.
func (d *Dispatcher) Dispatch(ctx context.Context, notificationID string) error {
	n, err := d.notifications.ClaimForProcessing(ctx, notificationID, d.now())
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.Warn("notification not found, skipping", zap.String("notificationId", notificationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim notification: %w", err)
	}
	if n == nil {
		d.logger.Debug("notification not pending, skipping", zap.String("notificationId", notificationID))
		return nil
	}

	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("notificationId", n.ID),
		zap.String("merchantId", n.MerchantID),
		zap.String("channel", n.Channel.String()),
	)
	d.events.notification(ctx, n.ID, domain.EventProcessingStarted, map[string]any{
		"retry_count": n.RetryCount,
	}, "")

	if n.RetriesExhausted() {
		return d.fail(ctx, logger, n, domain.ReasonRetriesExhausted, "maximum retries exceeded", false)
	}

	cfg, err := d.router.Select(ctx, n.Channel, n.MerchantID)
	if err != nil {
		return d.release(ctx, logger, n, fmt.Errorf("provider selection failed: %w", err))
	}
	if cfg == nil {
		return d.fail(ctx, logger, n, domain.ReasonNoProvider,
			fmt.Sprintf("no active provider for channel %s", n.Channel), false)
	}
	logger = logger.With(zap.String("provider", cfg.Name))

	adapter, err := d.providers.Resolve(*cfg)
	if err != nil {
		return d.fail(ctx, logger, n, domain.ReasonProviderMisconfigured, err.Error(), false)
	}

	admitted, reason, availableAt := d.admit(ctx, logger, n, cfg)
	if !admitted {
		return d.throttle(ctx, logger, n, reason, availableAt)
	}

	if !adapter.ValidateRecipient(n.Recipient) {
		return d.fail(ctx, logger, n, domain.ReasonInvalidRecipient,
			fmt.Sprintf("invalid %s recipient %q", n.Channel, n.Recipient), false)
	}

	return d.send(ctx, logger, n, cfg, adapter)
}

func (d *Dispatcher) send(
	ctx context.Context,
	logger *zap.Logger,
	n *domain.Notification,
	cfg *domain.ProviderConfig,
	adapter provider.Provider,
) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	start := d.now()
	resp, sendErr := adapter.Send(sendCtx, *n)
	d.metrics.ObserveNotificationSendDuration(n.Channel.String(), d.now().Sub(start))

	if sendErr == nil {
		return d.markSent(ctx, logger, n, cfg, resp)
	}

	retryable := provider.IsRetryable(sendErr)
	reason := domain.ReasonProviderError
	switch {
	case errors.Is(sendErr, provider.ErrInvalidRecipient):
		reason = domain.ReasonInvalidRecipient
	case errors.Is(sendErr, provider.ErrProviderMisconfigured):
		reason = domain.ReasonProviderMisconfigured
	}

	if retryable && n.RetryCount < n.MaxRetries {
		return d.scheduleRetry(ctx, logger, n, sendErr)
	}
	if retryable {
		reason = domain.ReasonRetriesExhausted
	}
	return d.fail(ctx, logger, n, reason, sendErr.Error(), retryable)
}

func (d *Dispatcher) markSent(
	ctx context.Context,
	logger *zap.Logger,
	n *domain.Notification,
	cfg *domain.ProviderConfig,
	resp *provider.ProviderResponse,
) error {
	sentAt := d.now().UTC()
	result := repository.SentResult{ProviderName: cfg.Name, SentAt: sentAt}
	if resp != nil {
		result.ProviderMessageID = resp.MessageID
		result.ProviderResponse = resp.Raw()
	}

	if err := d.notifications.MarkSent(ctx, n.ID, result); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	d.events.notification(ctx, n.ID, domain.EventSent, map[string]any{
		"provider":   cfg.Name,
		"message_id": result.ProviderMessageID,
	}, "")

	if d.merchants != nil {
		if err := d.merchants.IncrementUsage(ctx, n.MerchantID, n.Channel, sentAt); err != nil {
			logger.Warn("failed to increment merchant usage", zap.Error(err))
		}
	}

	d.metrics.IncNotificationSent(n.Channel.String(), cfg.Name)
	logger.Info("notification sent", zap.String("providerMessageId", result.ProviderMessageID))
	return nil
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, logger *zap.Logger, n *domain.Notification, sendErr error) error {
	availableAt := d.now().Add(d.retryDelay(n.RetryCount)).UTC()
	if err := d.notifications.ScheduleRetry(ctx, n.ID, availableAt, sendErr.Error()); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	d.events.notification(ctx, n.ID, domain.EventRetryScheduled, map[string]any{
		"retry_count":  n.RetryCount + 1,
		"available_at": availableAt.Format(time.RFC3339),
	}, sendErr.Error())
	d.metrics.IncRetryScheduled(n.Channel.String())

	logger.Warn("send failed, retry scheduled",
		zap.Int("retryCount", n.RetryCount+1),
		zap.Time("availableAt", availableAt),
		zap.Error(sendErr),
	)
	return nil
}

func (d *Dispatcher) fail(
	ctx context.Context,
	logger *zap.Logger,
	n *domain.Notification,
	reason string,
	errMsg string,
	retryable bool,
) error {
	if err := d.notifications.MarkFailed(ctx, n.ID, errMsg, retryable); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	d.events.notification(ctx, n.ID, domain.EventFailed, map[string]any{
		"reason":    reason,
		"retryable": retryable,
	}, errMsg)
	d.metrics.IncNotificationFailed(n.Channel.String(), reason)

	logger.Warn("notification failed", zap.String("reason", reason), zap.String("error", errMsg))
	return nil
}

func (d *Dispatcher) throttle(
	ctx context.Context,
	logger *zap.Logger,
	n *domain.Notification,
	reason string,
	availableAt time.Time,
) error {
	if err := d.notifications.Release(ctx, n.ID, availableAt); err != nil {
		return fmt.Errorf("failed to release throttled notification: %w", err)
	}

	d.events.notification(ctx, n.ID, domain.EventThrottled, map[string]any{
		"reason":       reason,
		"available_at": availableAt.UTC().Format(time.RFC3339),
	}, "")
	d.metrics.IncNotificationThrottled(n.Channel.String(), reason)

	logger.Info("notification throttled", zap.String("reason", reason), zap.Time("availableAt", availableAt))
	return nil
}

// release hands a claimed notification back after an infrastructure error so
// the scheduler redrives it later.
func (d *Dispatcher) release(ctx context.Context, logger *zap.Logger, n *domain.Notification, cause error) error {
	availableAt := d.now().Add(d.cfg.ThrottleDelay)
	if err := d.notifications.Release(ctx, n.ID, availableAt); err != nil {
		return fmt.Errorf("%w (release failed: %v)", cause, err)
	}
	logger.Error("dispatch interrupted, notification released", zap.Error(cause))
	return nil
}

// admit applies the merchant quota and limits, then the provider limits.
// Merchant checks fail open and provider checks fail closed.
func (d *Dispatcher) admit(
	ctx context.Context,
	logger *zap.Logger,
	n *domain.Notification,
	cfg *domain.ProviderConfig,
) (bool, string, time.Time) {
	now := d.now()
	throttledUntil := now.Add(d.cfg.ThrottleDelay)

	settings := d.merchantSettings(ctx, logger, n.MerchantID, now)
	if limit := settings.DailyLimit(n.Channel); limit > 0 && settings.UsageToday(n.Channel, now) >= limit {
		nextDay := domain.TruncateDay(now).Add(24 * time.Hour)
		return false, domain.ReasonMerchantLimit, nextDay
	}

	if d.limits == nil {
		return true, "", time.Time{}
	}

	rules := []ratelimit.Rule{
		ratelimit.MerchantChannelRule(n.MerchantID, n.Channel, settings.HourlyLimit(n.Channel)),
		ratelimit.ProviderMinuteRule(cfg.Name, cfg.RateLimitPerMinute),
		ratelimit.ProviderHourRule(cfg.Name, cfg.RateLimitPerHour),
	}
	for _, rule := range rules {
		allowed, err := d.limits.Check(ctx, rule)
		if err != nil {
			logger.Warn("rate limit check failed, deferring send", zap.String("rule", rule.Name), zap.Error(err))
		}
		if err != nil || !allowed {
			reason := domain.ReasonProviderLimit
			if rule.Policy == ratelimit.FailOpen {
				reason = domain.ReasonMerchantLimit
			}
			return false, reason, throttledUntil
		}
	}
	return true, "", time.Time{}
}

// merchantSettings never fails: missing settings and storage errors fall
// back to defaults.
func (d *Dispatcher) merchantSettings(ctx context.Context, logger *zap.Logger, merchantID string, now time.Time) *domain.MerchantSettings {
	if d.merchants == nil {
		return domain.NewMerchantSettings(merchantID, now)
	}

	settings, err := d.merchants.Get(ctx, merchantID)
	if err == nil {
		return settings
	}
	if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("merchant settings unavailable, admitting with defaults", zap.Error(err))
	}
	return domain.NewMerchantSettings(merchantID, now)
}

// retryDelay returns base * 2^retryCount.
func (d *Dispatcher) retryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		retryCount = 20
	}
	return d.cfg.RetryBaseDelay * time.Duration(1<<retryCount)
}
