package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	chainCallsTotal     *prometheus.CounterVec
	chainLatencySeconds *prometheus.HistogramVec

	mintSubmissionsTotal *prometheus.CounterVec
	mintsInFlight        prometheus.Gauge

	reconcileCorrectionsTotal *prometheus.CounterVec
	syncJobsTotal             *prometheus.CounterVec
	statusStreamClients       prometheus.Gauge
	documentUploadsTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "educert_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		chainCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_chain_calls_total",
			Help: "Contract calls by method, endpoint and outcome.",
		}, []string{"method", "endpoint", "outcome"})

		chainLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "educert_chain_latency_seconds",
			Help:    "Latency of individual contract calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"method"})

		mintSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_mint_submissions_total",
			Help: "Mint submissions by outcome.",
		}, []string{"outcome"})

		mintsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "educert_mints_in_flight",
			Help: "Mint transactions currently submitted and awaiting confirmation on this node.",
		})

		reconcileCorrectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_reconcile_corrections_total",
			Help: "Backend certificate records corrected from ledger state, by drift kind.",
		}, []string{"drift"})

		syncJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_backend_sync_jobs_total",
			Help: "Backend sync jobs by outcome.",
		}, []string{"outcome"})

		statusStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "educert_status_stream_clients",
			Help: "Connected certificate status websocket clients.",
		})

		documentUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "educert_document_uploads_total",
			Help: "Certificate document uploads by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			chainCallsTotal, chainLatencySeconds,
			mintSubmissionsTotal, mintsInFlight,
			reconcileCorrectionsTotal, syncJobsTotal,
			statusStreamClients, documentUploadsTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ChainCalls exposes the contract call counter.
func ChainCalls() *prometheus.CounterVec {
	RegisterMetrics()
	return chainCallsTotal
}

// ChainLatency exposes the contract call latency histogram.
func ChainLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return chainLatencySeconds
}

// MintSubmissions exposes the mint outcome counter.
func MintSubmissions() *prometheus.CounterVec {
	RegisterMetrics()
	return mintSubmissionsTotal
}

// MintsInFlight exposes the in-flight mint gauge.
func MintsInFlight() prometheus.Gauge {
	RegisterMetrics()
	return mintsInFlight
}

// ReconcileCorrections exposes the reconciler correction counter.
func ReconcileCorrections() *prometheus.CounterVec {
	RegisterMetrics()
	return reconcileCorrectionsTotal
}

// SyncJobs exposes the backend sync job counter.
func SyncJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return syncJobsTotal
}

// StatusStreamClients exposes the websocket client gauge.
func StatusStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return statusStreamClients
}

// DocumentUploads exposes the document upload counter.
func DocumentUploads() *prometheus.CounterVec {
	RegisterMetrics()
	return documentUploadsTotal
}
