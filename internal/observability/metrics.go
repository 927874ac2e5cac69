package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifier"

// Metrics stores Prometheus collectors used by API, worker and scheduler flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	notificationsCreatedTotal  *prometheus.CounterVec
	notificationsSentTotal     *prometheus.CounterVec
	notificationsFailedTotal   *prometheus.CounterVec
	notificationsThrottled     *prometheus.CounterVec
	notificationSendDuration   *prometheus.HistogramVec
	workerInflight             *prometheus.GaugeVec
	retryScheduledTotal        *prometheus.CounterVec
	campaignTransitionsTotal   *prometheus.CounterVec
	bulkRecipientsSkippedTotal *prometheus.CounterVec
	schedulerPromotedTotal     *prometheus.CounterVec
	schedulerRecoveredTotal    *prometheus.CounterVec
	queueDeliveriesTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_created_total",
				Help:      "Notifications created grouped by channel and source (api, scheduled, bulk, campaign).",
			},
			[]string{"channel", "source"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications sent successfully.",
			},
			[]string{"channel", "provider"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that ended in failed state.",
			},
			[]string{"channel", "reason"},
		),
		notificationsThrottled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_throttled_total",
				Help:      "Dispatch attempts deferred by a rate limit, grouped by channel and limit rule.",
			},
			[]string{"channel", "rule"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by channel.",
			},
			[]string{"channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of notifications scheduled for retry.",
			},
			[]string{"channel"},
		),
		campaignTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaign_transitions_total",
				Help:      "Campaign status transitions grouped by target status.",
			},
			[]string{"status"},
		),
		bulkRecipientsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expansion_recipients_skipped_total",
				Help:      "Recipient records skipped during campaign or bulk expansion.",
			},
			[]string{"kind"},
		),
		schedulerPromotedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_promoted_total",
				Help:      "Due work promoted by the scheduler grouped by kind.",
			},
			[]string{"kind"},
		),
		schedulerRecoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_recovered_total",
				Help:      "Notifications recovered by the scheduler grouped by reason.",
			},
			[]string{"reason"},
		),
		queueDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_deliveries_total",
				Help:      "Consumed queue deliveries grouped by queue and settlement outcome.",
			},
			[]string{"queue", "outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsCreatedTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationsThrottled,
		m.notificationSendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.campaignTransitionsTotal,
		m.bulkRecipientsSkippedTotal,
		m.schedulerPromotedTotal,
		m.schedulerRecoveredTotal,
		m.queueDeliveriesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationCreated(channel string, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsCreatedTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(source)).Add(float64(n))
}

func (m *Metrics) IncNotificationSent(channel string, provider string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncNotificationFailed(channel string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncNotificationThrottled(channel string, rule string) {
	if m == nil {
		return
	}
	m.notificationsThrottled.WithLabelValues(normalizeLabel(channel), normalizeLabel(rule)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	m.notificationSendDuration.WithLabelValues(normalizeLabel(channel)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncCampaignTransition(status string) {
	if m == nil {
		return
	}
	m.campaignTransitionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) AddRecipientsSkipped(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bulkRecipientsSkippedTotal.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

func (m *Metrics) AddSchedulerPromoted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.schedulerPromotedTotal.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

func (m *Metrics) IncSchedulerRecovered(reason string) {
	if m == nil {
		return
	}
	m.schedulerRecoveredTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncQueueDelivery(queue string, outcome string) {
	if m == nil {
		return
	}
	m.queueDeliveriesTotal.WithLabelValues(normalizeLabel(queue), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
