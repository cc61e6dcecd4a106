// Package metrics exposes Prometheus collectors for the page archiver.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	archiverFetchesTotal         *prometheus.CounterVec
	archiverFetchDurationSeconds *prometheus.HistogramVec
	archiverArtifactsTotal       *prometheus.CounterVec
	archiverUploadsTotal         *prometheus.CounterVec
	archiverUploadBytesTotal     *prometheus.CounterVec
	archiverSettleTimeoutsTotal  *prometheus.CounterVec
	archiverBlockedRequestsTotal *prometheus.CounterVec
	archiverActiveRuns           prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetches_total",
				Help: "Total number of pipeline runs, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		archiverFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_fetch_duration_seconds",
				Help:    "Histogram of pipeline run durations, labeled by result.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"result"},
		)

		archiverArtifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_artifacts_total",
				Help: "Total number of artifact capture attempts, labeled by artifact and result.",
			},
			[]string{"artifact", "result"},
		)

		archiverUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_uploads_total",
				Help: "Total number of artifact uploads, labeled by artifact and result.",
			},
			[]string{"artifact", "result"},
		)

		archiverUploadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_upload_bytes_total",
				Help: "Total number of bytes uploaded, labeled by artifact.",
			},
			[]string{"artifact"},
		)

		archiverSettleTimeoutsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_settle_timeouts_total",
				Help: "Total number of settle waits that timed out, labeled by load state.",
			},
			[]string{"state"},
		)

		archiverBlockedRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_blocked_requests_total",
				Help: "Total number of sub-resource requests blocked, labeled by resource type.",
			},
			[]string{"resource_type"},
		)

		archiverActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_runs",
				Help: "Number of pipeline runs currently in flight.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveFetch records one finished pipeline run.
func ObserveFetch(site string, ok bool, duration time.Duration) {
	Init()
	result := resultLabel(ok)
	archiverFetchesTotal.WithLabelValues(SanitizeSite(site), result).Inc()
	archiverFetchDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveArtifact records the result of one artifact capture step.
func ObserveArtifact(artifact string, ok bool) {
	Init()
	archiverArtifactsTotal.WithLabelValues(artifact, resultLabel(ok)).Inc()
}

// ObserveUpload records one artifact upload.
func ObserveUpload(artifact string, ok bool, bytesWritten int) {
	Init()
	archiverUploadsTotal.WithLabelValues(artifact, resultLabel(ok)).Inc()
	if ok && bytesWritten > 0 {
		archiverUploadBytesTotal.WithLabelValues(artifact).Add(float64(bytesWritten))
	}
}

// ObserveSettleTimeout increments the settle timeout counter for state.
func ObserveSettleTimeout(state string) {
	Init()
	archiverSettleTimeoutsTotal.WithLabelValues(state).Inc()
}

// ObserveBlockedRequests adds n blocked requests of resourceType.
func ObserveBlockedRequests(resourceType string, n int) {
	Init()
	if n <= 0 {
		return
	}
	archiverBlockedRequestsTotal.WithLabelValues(resourceType).Add(float64(n))
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	archiverActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	archiverActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
