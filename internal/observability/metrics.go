// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Acquisition metrics
	AcquisitionsTotal   *prometheus.CounterVec
	AcquisitionDuration *prometheus.HistogramVec
	RecordsReturned     *prometheus.HistogramVec
	FallbacksTotal      prometheus.Counter
	CacheLookups        *prometheus.CounterVec

	// Source metrics
	FetchAttempts   *prometheus.CounterVec
	FetchLatency    *prometheus.HistogramVec
	FetchErrors     *prometheus.CounterVec
	SourceRuns      *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec

	// API metrics
	AdmissionDecisions *prometheus.CounterVec
	StreamClients      prometheus.Gauge
	EventsPublished    *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulAcquisition prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "property_acquisition"
	}

	return &Metrics{
		AcquisitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "runs_total",
			Help:      "Total number of acquisitions by mode and outcome",
		}, []string{"mode", "outcome"}),
		AcquisitionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "duration_seconds",
			Help:      "Acquisition duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		RecordsReturned: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "records_returned",
			Help:      "Number of records returned per acquisition",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"mode"}),
		FallbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "fallbacks_total",
			Help:      "Total number of synthetic fallback results served",
		}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of result cache lookups by result",
		}, []string{"result"}),

		FetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_attempts_total",
			Help:      "Total number of outbound fetch attempts by source and status class",
		}, []string{"source", "status"}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_latency_seconds",
			Help:      "Outbound fetch attempt latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed fetches by source and kind",
		}, []string{"source", "kind"}),
		SourceRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "runs_total",
			Help:      "Total number of source runs by status",
		}, []string{"source", "status"}),
		RecordsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "records_rejected_total",
			Help:      "Total number of extracted records dropped by validation",
		}, []string{"source"}),

		AdmissionDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "admission_decisions_total",
			Help:      "Total number of admission decisions by path and outcome",
		}, []string{"path", "outcome"}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Number of connected live feed clients",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of published events by sink and status",
		}, []string{"sink", "status"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulAcquisition: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_acquisition_timestamp",
			Help:      "Unix timestamp of last acquisition that returned real records",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordAcquisition records a finished acquisition.
func RecordAcquisition(mode, outcome string, durationSeconds float64, records int) {
	DefaultMetrics.AcquisitionsTotal.WithLabelValues(mode, outcome).Inc()
	DefaultMetrics.AcquisitionDuration.WithLabelValues(mode).Observe(durationSeconds)
	DefaultMetrics.RecordsReturned.WithLabelValues(mode).Observe(float64(records))
	if outcome == "ok" && records > 0 {
		DefaultMetrics.LastSuccessfulAcquisition.Set(float64(time.Now().Unix()))
	}
}

// RecordFallback increments the fallback counter.
func RecordFallback() {
	DefaultMetrics.FallbacksTotal.Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(result).Inc()
}

// RecordFetchAttempt records one outbound attempt.
func RecordFetchAttempt(source, status string, seconds float64) {
	DefaultMetrics.FetchAttempts.WithLabelValues(source, status).Inc()
	DefaultMetrics.FetchLatency.WithLabelValues(source).Observe(seconds)
}

// RecordFetchError records a failed fetch by kind.
func RecordFetchError(source, kind string) {
	DefaultMetrics.FetchErrors.WithLabelValues(source, kind).Inc()
}

// RecordSourceRun records the outcome of one source within an acquisition.
func RecordSourceRun(source, status string) {
	DefaultMetrics.SourceRuns.WithLabelValues(source, status).Inc()
}

// RecordRejected records n records dropped by validation.
func RecordRejected(source string, n int) {
	DefaultMetrics.RecordsRejected.WithLabelValues(source).Add(float64(n))
}

// RecordAdmission records an admission decision.
func RecordAdmission(path, outcome string) {
	DefaultMetrics.AdmissionDecisions.WithLabelValues(path, outcome).Inc()
}

// SetStreamClients updates the live feed client gauge.
func SetStreamClients(n int) {
	DefaultMetrics.StreamClients.Set(float64(n))
}

// RecordEventPublish records an event publish.
func RecordEventPublish(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.EventsPublished.WithLabelValues(sink, status).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
