package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Quarters backend.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Billing webhook metrics.
	WebhookEventsTotal *prometheus.CounterVec

	// Outbox metrics.
	OutboxDepth       prometheus.Gauge
	OutboxTasksTotal  *prometheus.CounterVec
	OutboxRunDuration prometheus.Histogram

	// Email metrics.
	EmailSendsTotal *prometheus.CounterVec

	// Tenancy.
	OrganizationsTotal prometheus.Gauge

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarters_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quarters_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quarters_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarters_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"reason"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarters_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"method"}),

		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarters_webhook_events_total",
			Help: "Total number of payment webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),

		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quarters_outbox_depth",
			Help: "Number of outbox tasks waiting to run.",
		}),

		OutboxTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarters_outbox_tasks_total",
			Help: "Total number of processed outbox tasks by kind and outcome.",
		}, []string{"kind", "outcome"}),

		OutboxRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quarters_outbox_run_duration_seconds",
			Help:    "Duration of outbox task runs in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		EmailSendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarters_email_sends_total",
			Help: "Total number of email deliveries by status.",
		}, []string{"status"}),

		OrganizationsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quarters_organizations_total",
			Help: "Number of organizations, sampled periodically.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quarters_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.WebhookEventsTotal,
		m.OutboxDepth,
		m.OutboxTasksTotal,
		m.OutboxRunDuration,
		m.EmailSendsTotal,
		m.OrganizationsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncHTTPRequest increments the request counter for one served request.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(statusCode)).Inc()
}

// ObserveHTTPRequest records duration and response size for one request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, seconds float64, responseBytes int) {
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
	m.HTTPResponseSize.WithLabelValues(method, pathPattern).Observe(float64(responseBytes))
}

// IncAuthFailure increments the auth failure counter for the given reason.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// IncAuthSuccess increments the auth success counter for the given method.
func (m *Metrics) IncAuthSuccess(method string) {
	m.AuthSuccessesTotal.WithLabelValues(method).Inc()
}

// IncWebhookEvent increments the webhook event counter.
func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// IncOutboxTask increments the processed task counter.
func (m *Metrics) IncOutboxTask(kind, outcome string) {
	m.OutboxTasksTotal.WithLabelValues(kind, outcome).Inc()
}

// IncEmailSend increments the email delivery counter.
func (m *Metrics) IncEmailSend(status string) {
	m.EmailSendsTotal.WithLabelValues(status).Inc()
}
