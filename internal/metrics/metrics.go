// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal             *prometheus.CounterVec
	modelCallDurationSeconds   *prometheus.HistogramVec
	fetchAttemptsTotal         *prometheus.CounterVec
	recordsPersistedTotal      prometheus.Counter
	duplicatesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pacingDelaySeconds         prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspector_documents_total",
				Help: "Documents handled by the extraction caller, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		modelCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspector_model_call_duration_seconds",
				Help:    "Latency of individual model attempts, labeled by tier and attempt kind.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 15, 20, 30},
			},
			[]string{"tier", "attempt"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspector_fetch_attempts_total",
				Help: "Document download attempts, labeled by result.",
			},
			[]string{"result"},
		)

		recordsPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "inspector_records_persisted_total",
				Help: "Normalized records written to the record store.",
			},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspector_duplicates_total",
				Help: "Records flagged as duplicates, labeled by where they were found.",
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inspector_pacing_delay_seconds",
				Help:    "Pauses inserted between documents.",
				Buckets: []float64{0.5, 1, 2, 4, 8},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument counts one extraction outcome.
func ObserveDocument(tier, outcome string) {
	Init()
	documentsTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveModelCall records the latency of one model attempt.
func ObserveModelCall(tier, attempt string, duration time.Duration) {
	Init()
	modelCallDurationSeconds.WithLabelValues(tier, attempt).Observe(duration.Seconds())
}

// ObserveFetchAttempt counts one download attempt.
func ObserveFetchAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObservePersisted adds n persisted records.
func ObservePersisted(n int) {
	Init()
	recordsPersistedTotal.Add(float64(n))
}

// ObserveDuplicates adds n duplicates found at stage.
func ObserveDuplicates(stage string, n int) {
	if n <= 0 {
		return
	}
	Init()
	duplicatesTotal.WithLabelValues(stage).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePacingDelay records a pause between documents.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}
