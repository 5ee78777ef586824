package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rewards_core",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	workflowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "workflow_outcomes_total",
			Help:      "Completed workflow invocations by outcome.",
		},
		[]string{"workflow", "outcome"},
	)

	stepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "workflow_step_failures_total",
			Help:      "Workflow step failures, including tolerated best-effort ones.",
		},
		[]string{"workflow", "step", "best_effort"},
	)

	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "compensations_total",
			Help:      "Compensation attempts after a workflow step failure.",
		},
		[]string{"workflow", "step", "result"},
	)

	balanceConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "balance_write_conflicts_total",
			Help:      "Balance writes rejected by the version check and retried.",
		},
		[]string{"workflow"},
	)

	postingLag = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rewards_core",
			Subsystem: "ledger",
			Name:      "posting_append_failures_total",
			Help:      "Audit postings that failed to append after the balance moved.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		workflowOutcomes,
		stepFailures,
		compensations,
		balanceConflicts,
		postingLag,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// WorkflowOutcome records a completed workflow invocation.
func WorkflowOutcome(workflow, outcome string) {
	workflowOutcomes.WithLabelValues(workflow, outcome).Inc()
}

// BalanceConflict records a version-check miss on a balance write.
func BalanceConflict(workflow string) {
	balanceConflicts.WithLabelValues(workflow).Inc()
}

// PostingAppendFailure records an audit posting left behind by a workflow
// that kept its balance movement.
func PostingAppendFailure() {
	postingLag.Inc()
}

// SagaMetrics adapts the registry to the saga engine's sink interface.
type SagaMetrics struct{}

// StepFailed counts a workflow step failure.
func (SagaMetrics) StepFailed(workflow, step string, bestEffort bool) {
	stepFailures.WithLabelValues(workflow, step, strconv.FormatBool(bestEffort)).Inc()
}

// CompensationRun counts a compensation attempt.
func (SagaMetrics) CompensationRun(workflow, step string, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	compensations.WithLabelValues(workflow, step, result).Inc()
}

// InstrumentHandler wraps an HTTP handler with request counting and timing.
// The path label uses the route template, not the raw URL, to bound
// cardinality.
func InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
