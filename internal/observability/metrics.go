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

// Attempt outcomes recorded on the delivery attempt counter.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomePoisoned  = "poisoned"
	OutcomeRetried   = "retried"
	OutcomeSkipped   = "skipped"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	deliveryAttempts     *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
	throttleEvents       *prometheus.CounterVec
	enqueueFailures      *prometheus.CounterVec
	deliverySendDuration *prometheus.HistogramVec
	queueDepth           prometheus.Gauge
	poisonQueueSize      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "alert_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_relay",
				Name:      "delivery_attempts_total",
				Help:      "Total delivery attempts by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_relay",
				Name:      "delivery_retries_total",
				Help:      "Total delivery retries scheduled, in-process or via re-enqueue.",
			},
			[]string{"channel"},
		),
		throttleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_relay",
				Name:      "throttle_events_total",
				Help:      "Total rate-limit denials by limit scope.",
			},
			[]string{"scope"},
		),
		enqueueFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_relay",
				Name:      "enqueue_failures_total",
				Help:      "Total deliveries dropped or delayed because a queue hand-off failed.",
			},
			[]string{"channel"},
		),
		deliverySendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "alert_relay",
				Name:      "delivery_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "alert_relay",
				Name:      "queue_depth",
				Help:      "Current admission counter depth (pending plus in-progress deliveries).",
			},
		),
		poisonQueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "alert_relay",
				Name:      "poison_queue_size",
				Help:      "Current number of poisoned deliveries awaiting triage.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveryAttempts,
		m.retriesTotal,
		m.throttleEvents,
		m.enqueueFailures,
		m.deliverySendDuration,
		m.queueDepth,
		m.poisonQueueSize,
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDeliveryAttempt(channel string, outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(normalizeChannel(channel), outcome).Inc()
}

func (m *Metrics) IncRetry(channel string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncThrottle(scope string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(scope))
	if normalized == "" {
		normalized = "unknown"
	}
	m.throttleEvents.WithLabelValues(normalized).Inc()
}

func (m *Metrics) IncEnqueueFailure(channel string) {
	if m == nil {
		return
	}
	m.enqueueFailures.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) ObserveSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliverySendDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SetPoisonQueueSize(size int64) {
	if m == nil {
		return
	}
	m.poisonQueueSize.Set(float64(size))
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

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
