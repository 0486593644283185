// Package metrics exposes the control plane's Prometheus series and the
// HTTP middleware that records them, using a counter/histogram/gauge plus
// a single wrapping Middleware to keep every handler's instrumentation
// consistent.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests by method, route, and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency by method and route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentctl_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// QueueDepth tracks the number of run queue items per status.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_queue_depth",
			Help: "Number of run queue items by status",
		},
		[]string{"status"},
	)

	// ClaimLatency tracks how long a claimed run takes to reach a terminal
	// queue outcome (succeeded, retried, failed, canceled).
	ClaimLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentctl_claim_duration_seconds",
			Help:    "Time from claim to terminal queue outcome",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	// RunsTotal counts runs reaching each Queue Manager outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_runs_total",
			Help: "Total number of queued runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	// StreamSubscribers tracks the number of live SSE subscribers.
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_stream_subscribers",
			Help: "Number of currently connected SSE stream subscribers",
		},
	)

	// SessionWorkersRunning tracks the number of session workers per state.
	SessionWorkersRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_session_workers",
			Help: "Number of session workers by lifecycle state",
		},
		[]string{"state"},
	)

	// WorkspaceSyncTotal counts workspace sync attempts by outcome and reason.
	WorkspaceSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_workspace_sync_total",
			Help: "Total number of workspace sync attempts by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	// ReconcilerSweepTotal counts reconciler job candidates by job and
	// outcome (succeeded/failed).
	ReconcilerSweepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_reconciler_sweep_total",
			Help: "Total number of reconciler sweep candidates by job and outcome",
		},
		[]string{"job", "outcome"},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so SSE handlers downstream of Middleware
// can still flush incrementally.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records RequestsTotal/RequestDuration for every request.
// routeLabel should be a low-cardinality route template (e.g.
// "/api/runs/{runId}"), not the raw path, to avoid per-runId label churn.
func Middleware(routeLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			label := routeLabel(r)
			RequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(wrapped.statusCode)).Inc()
			RequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunOutcome records a Queue Manager terminal outcome and how long the
// claim took to reach it.
func RecordRunOutcome(outcome string, claimDuration time.Duration) {
	RunsTotal.WithLabelValues(outcome).Inc()
	ClaimLatency.WithLabelValues(outcome).Observe(claimDuration.Seconds())
}

// RecordWorkspaceSync records a workspace sync attempt's outcome.
func RecordWorkspaceSync(reason string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	WorkspaceSyncTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordReconcilerJob records one reconciler job's sweep report.
func RecordReconcilerJob(job string, succeeded, failed int) {
	if succeeded > 0 {
		ReconcilerSweepTotal.WithLabelValues(job, "succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		ReconcilerSweepTotal.WithLabelValues(job, "failed").Add(float64(failed))
	}
}

// SetQueueDepth sets the current queue depth for status.
func SetQueueDepth(status string, count float64) {
	QueueDepth.WithLabelValues(status).Set(count)
}

// SetSessionWorkersRunning sets the current worker count for state.
func SetSessionWorkersRunning(state string, count float64) {
	SessionWorkersRunning.WithLabelValues(state).Set(count)
}

// IncStreamSubscribers/DecStreamSubscribers track live SSE connections.
func IncStreamSubscribers() { StreamSubscribers.Inc() }
func DecStreamSubscribers() { StreamSubscribers.Dec() }
