package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every recording method is safe on a
// nil receiver so components can run unmetered in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control metrics
	DenialsTotal      *prometheus.CounterVec
	RestorationsTotal *prometheus.CounterVec
	ConsentRejections *prometheus.CounterVec

	// Audit metrics
	AuditAppendsTotal   prometheus.Counter
	AuditWriteFailures  prometheus.Counter
	AuditEntriesTrimmed prometheus.Counter

	// Decision cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_access_denials_total",
				Help: "Access-control denials by resource type and operation",
			},
			[]string{"resource_type", "operation"},
		),
		RestorationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_immutable_restorations_total",
				Help: "Updates on which immutable fields were silently restored",
			},
			[]string{"resource_type"},
		),
		ConsentRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_consent_rejections_total",
				Help: "Creates rejected for missing or false consent",
			},
			[]string{"resource_type"},
		),

		AuditAppendsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldgate_audit_appends_total",
				Help: "Audit entries appended",
			},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldgate_audit_write_failures_total",
				Help: "Audit appends that failed after the primary operation committed",
			},
		),
		AuditEntriesTrimmed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldgate_audit_entries_trimmed_total",
				Help: "Audit entries removed by the retention job",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_decision_cache_hits_total",
				Help: "Decision cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldgate_decision_cache_misses_total",
				Help: "Decision cache misses",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldgate_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldgate_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DenialsTotal,
		m.RestorationsTotal,
		m.ConsentRejections,
		m.AuditAppendsTotal,
		m.AuditWriteFailures,
		m.AuditEntriesTrimmed,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDenial records an access-control denial
func (m *Metrics) RecordDenial(resourceType, operation string) {
	if m == nil {
		return
	}
	m.DenialsTotal.WithLabelValues(resourceType, operation).Inc()
}

// RecordRestoration records an update with silently restored immutable fields
func (m *Metrics) RecordRestoration(resourceType string) {
	if m == nil {
		return
	}
	m.RestorationsTotal.WithLabelValues(resourceType).Inc()
}

// RecordConsentRejection records a create blocked by the consent gate
func (m *Metrics) RecordConsentRejection(resourceType string) {
	if m == nil {
		return
	}
	m.ConsentRejections.WithLabelValues(resourceType).Inc()
}

// RecordAuditAppend records a successful audit append
func (m *Metrics) RecordAuditAppend() {
	if m == nil {
		return
	}
	m.AuditAppendsTotal.Inc()
}

// RecordAuditWriteFailure records an audit append failure
func (m *Metrics) RecordAuditWriteFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

// RecordAuditTrimmed records entries removed by retention
func (m *Metrics) RecordAuditTrimmed(count int64) {
	if m == nil {
		return
	}
	m.AuditEntriesTrimmed.Add(float64(count))
}

// RecordCacheHit records a decision cache hit on the given tier
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a decision cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// CollectDBStats copies connection pool gauges from sql.DBStats values
func (m *Metrics) CollectDBStats(open, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(open - idle))
	m.DBConnectionsIdle.Set(float64(idle))
}
