package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a private Prometheus registry.
type PrometheusMetrics struct {
	appendsTotal       *prometheus.CounterVec
	appendDuration     prometheus.Histogram
	exportsTotal       *prometheus.CounterVec
	exportedEvents     prometheus.Counter
	queryDuration      prometheus.Histogram
	verificationsTotal *prometheus.CounterVec
	verifyDuration     prometheus.Histogram
	chainVerifications *prometheus.CounterVec
	activeRequests     prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates the metrics set under the given namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	appendsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appends_total",
			Help:      "Total number of ledger appends by status",
		},
		[]string{"status"},
	)

	appendDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Ledger append latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	exportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of bundle exports by status",
		},
		[]string{"status"},
	)

	exportedEvents := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_events_total",
			Help:      "Total number of events included in exported bundles",
		},
	)

	queryDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Ledger query latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	verificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_verifications_total",
			Help:      "Total number of bundle verifications by outcome",
		},
		[]string{"ok"},
	)

	verifyDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_verification_duration_seconds",
			Help:      "Bundle verification latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	chainVerifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_verifications_total",
			Help:      "Total number of stored chain verifications by outcome",
		},
		[]string{"ok"},
	)

	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight API requests",
		},
	)

	registry.MustRegister(
		appendsTotal, appendDuration,
		exportsTotal, exportedEvents,
		queryDuration,
		verificationsTotal, verifyDuration,
		chainVerifications,
		activeRequests,
	)

	return &PrometheusMetrics{
		appendsTotal:       appendsTotal,
		appendDuration:     appendDuration,
		exportsTotal:       exportsTotal,
		exportedEvents:     exportedEvents,
		queryDuration:      queryDuration,
		verificationsTotal: verificationsTotal,
		verifyDuration:     verifyDuration,
		chainVerifications: chainVerifications,
		activeRequests:     activeRequests,
		registry:           registry,
	}
}

func (m *PrometheusMetrics) RecordAppend(status string, duration time.Duration) {
	m.appendsTotal.WithLabelValues(status).Inc()
	m.appendDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordExport(status string, eventCount int) {
	m.exportsTotal.WithLabelValues(status).Inc()
	if eventCount > 0 {
		m.exportedEvents.Add(float64(eventCount))
	}
}

func (m *PrometheusMetrics) RecordQuery(duration time.Duration) {
	m.queryDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBundleVerification(ok bool, duration time.Duration) {
	m.verificationsTotal.WithLabelValues(strconv.FormatBool(ok)).Inc()
	m.verifyDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordChainVerification(ok bool) {
	m.chainVerifications.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (m *PrometheusMetrics) IncActiveRequests() { m.activeRequests.Inc() }
func (m *PrometheusMetrics) DecActiveRequests() { m.activeRequests.Dec() }

// HTTPHandler returns the Prometheus scrape handler for this registry.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
