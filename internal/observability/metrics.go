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
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics stores Prometheus collectors used by the API and scheduler flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	remindersSentTotal   prometheus.Counter
	remindersFailedTotal *prometheus.CounterVec
	reminderSendDuration prometheus.Histogram
	checkPassesTotal     *prometheus.CounterVec
	itemsInCooldown      prometheus.Gauge
	reactionsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reaction_reminder",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "reaction_reminder",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		remindersSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reaction_reminder",
				Name:      "reminders_sent_total",
				Help:      "Total number of reminder notifications delivered.",
			},
		),
		remindersFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reaction_reminder",
				Name:      "reminders_failed_total",
				Help:      "Total number of reminder dispatch failures grouped by reason.",
			},
			[]string{"reason"},
		),
		reminderSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "reaction_reminder",
				Name:      "reminder_send_duration_seconds",
				Help:      "Chat API send duration in seconds for reminder notifications.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		checkPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reaction_reminder",
				Name:      "check_passes_total",
				Help:      "Total number of completed due-check passes grouped by trigger.",
			},
			[]string{"trigger"},
		),
		itemsInCooldown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reaction_reminder",
				Name:      "items_in_cooldown",
				Help:      "Current number of watched items excluded by the failure cooldown.",
			},
		),
		reactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reaction_reminder",
				Name:      "reactions_processed_total",
				Help:      "Total number of reaction events folded into item state, by kind.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.remindersSentTotal,
		m.remindersFailedTotal,
		m.reminderSendDuration,
		m.checkPassesTotal,
		m.itemsInCooldown,
		m.reactionsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FiberHandler exposes the scrape endpoint as a fiber route.
func (m *Metrics) FiberHandler() fiber.Handler {
	scrape := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	return func(c *fiber.Ctx) error {
		scrape(c.Context())
		return nil
	}
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

func (m *Metrics) IncReminderSent() {
	if m == nil {
		return
	}
	m.remindersSentTotal.Inc()
}

func (m *Metrics) IncReminderFailed(reason string) {
	if m == nil {
		return
	}
	m.remindersFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveReminderSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.reminderSendDuration.Observe(seconds)
}

func (m *Metrics) IncCheckPass(trigger string) {
	if m == nil {
		return
	}
	m.checkPassesTotal.WithLabelValues(normalizeLabel(trigger)).Inc()
}

func (m *Metrics) SetItemsInCooldown(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.itemsInCooldown.Set(float64(count))
}

func (m *Metrics) IncReactionProcessed(kind string) {
	if m == nil {
		return
	}
	m.reactionsTotal.WithLabelValues(normalizeLabel(kind)).Inc()
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
