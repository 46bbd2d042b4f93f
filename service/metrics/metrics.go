package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics disables recording at the call sites.
type Metrics struct {
	// Status provider metrics
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	rpcRateLimitHits     *prometheus.CounterVec

	// Scheduler metrics
	pollTicksTotal   *prometheus.CounterVec
	pollLoopsActive  prometheus.Gauge
	pollLoopsQueued  prometheus.Gauge
	pollLoopsRetired prometheus.Counter

	// Record lifecycle metrics
	recordsCreatedTotal   *prometheus.CounterVec
	recordsTerminalTotal  *prometheus.CounterVec
	statusRegressionTotal *prometheus.CounterVec

	// Event fan-out metrics
	listenerFailuresTotal *prometheus.CounterVec
	streamConnections     *prometheus.GaugeVec
	streamEventsSent      *prometheus.CounterVec
	streamEventsDropped   *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Benchmark metrics
	benchmarkRunsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		providerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "status_provider_calls_total",
				Help: "Total number of status provider queries by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "status_provider_call_duration_seconds",
				Help:    "Duration of status provider queries in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"provider"},
		),
		rpcRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),

		pollTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_ticks_total",
				Help: "Total number of poll ticks by result (update, absent, error, skipped)",
			},
			[]string{"result"},
		),
		pollLoopsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poll_loops_active",
				Help: "Number of active per-signature poll loops",
			},
		),
		pollLoopsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poll_loops_queued",
				Help: "Number of signatures waiting for a poll loop slot",
			},
		),
		pollLoopsRetired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poll_loops_retired_total",
				Help: "Total number of poll loops retired after a terminal status",
			},
		),

		recordsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_tracked_total",
				Help: "Total number of transactions registered for tracking",
			},
			[]string{"route"},
		),
		recordsTerminalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_terminal_total",
				Help: "Total number of transactions reaching a terminal status",
			},
			[]string{"route", "status"},
		),
		statusRegressionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_status_regressions_total",
				Help: "Total number of merges that moved a status backwards",
			},
			[]string{"from", "to"},
		),

		listenerFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_listener_failures_total",
				Help: "Total number of event listener failures",
			},
			[]string{"event_type", "reason"},
		),
		streamConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stream_active_connections",
				Help: "Number of active streaming connections",
			},
			[]string{"transport"},
		),
		streamEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_sent_total",
				Help: "Total number of events written to streaming clients",
			},
			[]string{"transport", "event_type"},
		),
		streamEventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_dropped_total",
				Help: "Total number of events dropped for slow consumers",
			},
			[]string{"consumer"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"kind", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),

		benchmarkRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchmark_runs_total",
				Help: "Total number of synthetic benchmark runs",
			},
			[]string{"status"},
		),
	}
}

// Status provider metric helpers

// RecordProviderCall records a status query with duration.
func (m *Metrics) RecordProviderCall(provider, outcome string, duration float64) {
	m.providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.rpcRateLimitHits.WithLabelValues(endpoint).Inc()
}

// Scheduler metric helpers

// RecordPollTick records the result of one poll tick.
func (m *Metrics) RecordPollTick(result string) {
	m.pollTicksTotal.WithLabelValues(result).Inc()
}

// SetPollLoops records the current active and queued loop counts.
func (m *Metrics) SetPollLoops(active, queued int) {
	m.pollLoopsActive.Set(float64(active))
	m.pollLoopsQueued.Set(float64(queued))
}

// RecordPollLoopRetired records a loop retirement.
func (m *Metrics) RecordPollLoopRetired() {
	m.pollLoopsRetired.Inc()
}

// Record lifecycle metric helpers

// RecordTracked records a newly tracked transaction.
func (m *Metrics) RecordTracked(route string) {
	m.recordsCreatedTotal.WithLabelValues(route).Inc()
}

// RecordTerminal records a transaction reaching a terminal status.
func (m *Metrics) RecordTerminal(route, status string) {
	m.recordsTerminalTotal.WithLabelValues(route, status).Inc()
}

// RecordStatusRegression records a merge that moved a status backwards.
func (m *Metrics) RecordStatusRegression(from, to string) {
	m.statusRegressionTotal.WithLabelValues(from, to).Inc()
}

// Event fan-out metric helpers

// RecordListenerFailure records an event listener that errored or panicked.
func (m *Metrics) RecordListenerFailure(eventType, reason string) {
	m.listenerFailuresTotal.WithLabelValues(eventType, reason).Inc()
}

// RecordStreamConnectionChange records a change in streaming connection count.
func (m *Metrics) RecordStreamConnectionChange(transport string, delta float64) {
	m.streamConnections.WithLabelValues(transport).Add(delta)
}

// RecordStreamEventSent records an event written to a streaming client.
func (m *Metrics) RecordStreamEventSent(transport, eventType string) {
	m.streamEventsSent.WithLabelValues(transport, eventType).Inc()
}

// RecordStreamEventDropped records an event dropped because a consumer fell behind.
func (m *Metrics) RecordStreamEventDropped(consumer string) {
	m.streamEventsDropped.WithLabelValues(consumer).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(kind, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(kind, status).Inc()
	m.natsPublishDuration.WithLabelValues(kind).Observe(duration)
}

// RecordBenchmarkRun records a benchmark run outcome.
func (m *Metrics) RecordBenchmarkRun(status string) {
	m.benchmarkRunsTotal.WithLabelValues(status).Inc()
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
