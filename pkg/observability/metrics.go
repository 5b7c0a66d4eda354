package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution metrics
	SnapshotsTotal     *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	GroupsResolved     prometheus.Histogram

	// Decision metrics
	PermissionChecksTotal    *prometheus.CounterVec
	ConfigurationErrorsTotal prometheus.Counter
	IntegrityWarningsTotal   *prometheus.CounterVec

	// Store metrics
	StoreQueriesTotal   *prometheus.CounterVec
	StoreQueryDuration  *prometheus.HistogramVec
	MappingsActiveTotal prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_snapshots_total",
				Help: "Total number of permission snapshots built",
			},
			[]string{"full_access"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_resolution_duration_seconds",
				Help:    "Time spent building a permission snapshot",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		GroupsResolved: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_groups_resolved",
				Help:    "Group identities resolved per snapshot",
				Buckets: prometheus.LinearBuckets(0, 5, 10),
			},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_permission_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"code", "outcome"},
		),
		ConfigurationErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_configuration_errors_total",
				Help: "Permission checks against codes missing from the catalog",
			},
		),
		IntegrityWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_integrity_warnings_total",
				Help: "Stored mappings ignored because they are malformed",
			},
			[]string{"reason"},
		),

		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_queries_total",
				Help: "Total number of mapping store queries",
			},
			[]string{"backend", "status"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_store_query_duration_seconds",
				Help:    "Mapping store query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		MappingsActiveTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_mappings_active_total",
				Help: "Active permission mappings seen by the last integrity sweep",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SnapshotsTotal,
		m.ResolutionDuration,
		m.GroupsResolved,
		m.PermissionChecksTotal,
		m.ConfigurationErrorsTotal,
		m.IntegrityWarningsTotal,
		m.StoreQueriesTotal,
		m.StoreQueryDuration,
		m.MappingsActiveTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// MetricsHandler returns an HTTP handler serving the registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
