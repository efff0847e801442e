package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Keel. A nil *Metrics is a valid
// no-op sink, as is an instance built with Enabled false.
type Metrics struct {
	config MetricsConfig

	// Graph validation metrics
	validationsTotal   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	cyclesDetected     *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec

	// Flow policy metrics
	flowViolations *prometheus.CounterVec

	// Rule pack metrics
	policyEvaluations  *prometheus.CounterVec
	policyEvalDuration prometheus.Histogram
	policyViolations   *prometheus.CounterVec

	// Cancellation metrics
	activeScopes            prometheus.Gauge
	cancellationsPropagated prometheus.Counter
	tasksCancelled          prometheus.Counter

	// Deadlock metrics
	deadlockTimeouts *prometheus.CounterVec

	// Resource coordination metrics
	acquisitionsTotal   *prometheus.CounterVec
	acquireWaitDuration *prometheus.HistogramVec
	priorityBoosts      prometheus.Counter
	resourceWaiters     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Graph validation metrics
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of dependency graph validations",
			},
			[]string{"result"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Duration of dependency graph validations in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
		cyclesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_detected_total",
				Help:      "Total number of dependency cycles detected",
			},
			[]string{"kind"},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Total number of memoized graph query lookups",
			},
			[]string{"operation"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of memoized graph query hits",
			},
			[]string{"operation"},
		),

		// Flow policy metrics
		flowViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_violations_total",
				Help:      "Total number of layer flow policy violations",
			},
			[]string{"from_layer", "to_layer"},
		),

		// Rule pack metrics
		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of rule pack evaluations",
			},
			[]string{"outcome"},
		),
		policyEvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "policy_evaluation_duration_seconds",
				Help:      "Duration of rule pack evaluations in seconds",
				Buckets:   buckets,
			},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of rule pack violations",
			},
			[]string{"policy", "severity"},
		),

		// Cancellation metrics
		activeScopes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_scopes",
				Help:      "Current number of registered owner scopes",
			},
		),
		cancellationsPropagated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancellations_propagated_total",
				Help:      "Total number of cancellation propagations",
			},
		),
		tasksCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_cancelled_total",
				Help:      "Total number of dependent tasks cancelled by propagation",
			},
		),

		// Deadlock metrics
		deadlockTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deadlock_timeouts_total",
				Help:      "Total number of guarded operations that hit the deadlock timeout",
			},
			[]string{"operation"},
		),

		// Resource coordination metrics
		acquisitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_acquisitions_total",
				Help:      "Total number of resource acquisition attempts",
			},
			[]string{"outcome"},
		),
		acquireWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_acquire_wait_seconds",
				Help:      "Time spent waiting for resource ownership in seconds",
				Buckets:   buckets,
			},
			[]string{"resource"},
		),
		priorityBoosts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "priority_boosts_total",
				Help:      "Total number of priority inheritance boosts applied",
			},
		),
		resourceWaiters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_waiters",
				Help:      "Current number of requesters queued per resource",
			},
			[]string{"resource"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.validationsTotal,
		m.validationDuration,
		m.cyclesDetected,
		m.cacheRequests,
		m.cacheHits,
		m.flowViolations,
		m.policyEvaluations,
		m.policyEvalDuration,
		m.policyViolations,
		m.activeScopes,
		m.cancellationsPropagated,
		m.tasksCancelled,
		m.deadlockTimeouts,
		m.acquisitionsTotal,
		m.acquireWaitDuration,
		m.priorityBoosts,
		m.resourceWaiters,
	)

	return m, nil
}

// Validation Metrics

// RecordValidation records one graph validation with its result and duration.
func (m *Metrics) RecordValidation(valid bool, duration time.Duration) {
	if m == nil || m.validationsTotal == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.validationsTotal.WithLabelValues(result).Inc()
	m.validationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCycleDetected increments the cycle counter for a graph kind.
func (m *Metrics) RecordCycleDetected(kind string) {
	if m == nil || m.cyclesDetected == nil {
		return
	}
	m.cyclesDetected.WithLabelValues(kind).Inc()
}

// RecordCacheRequest records one memoized query lookup and whether it hit.
func (m *Metrics) RecordCacheRequest(operation string, hit bool) {
	if m == nil || m.cacheRequests == nil {
		return
	}
	m.cacheRequests.WithLabelValues(operation).Inc()
	if hit {
		m.cacheHits.WithLabelValues(operation).Inc()
	}
}

// Flow Policy Metrics

// RecordFlowViolation records a rejected layer dependency.
func (m *Metrics) RecordFlowViolation(fromLayer, toLayer string) {
	if m == nil || m.flowViolations == nil {
		return
	}
	m.flowViolations.WithLabelValues(fromLayer, toLayer).Inc()
}

// Rule Pack Metrics

// RecordPolicyEvaluation records one rule pack evaluation with its outcome.
func (m *Metrics) RecordPolicyEvaluation(outcome string, duration time.Duration) {
	if m == nil || m.policyEvaluations == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(outcome).Inc()
	m.policyEvalDuration.Observe(duration.Seconds())
}

// RecordPolicyViolation records a rule pack violation by policy and severity.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Cancellation Metrics

// IncActiveScopes increments the registered owner scope gauge.
func (m *Metrics) IncActiveScopes() {
	if m == nil || m.activeScopes == nil {
		return
	}
	m.activeScopes.Inc()
}

// DecActiveScopes decrements the registered owner scope gauge.
func (m *Metrics) DecActiveScopes() {
	if m == nil || m.activeScopes == nil {
		return
	}
	m.activeScopes.Dec()
}

// SetActiveScopes sets the registered owner scope gauge.
func (m *Metrics) SetActiveScopes(count float64) {
	if m == nil || m.activeScopes == nil {
		return
	}
	m.activeScopes.Set(count)
}

// RecordCancellationPropagated records one propagation and the number of
// dependent tasks it cancelled.
func (m *Metrics) RecordCancellationPropagated(taskCount int) {
	if m == nil || m.cancellationsPropagated == nil {
		return
	}
	m.cancellationsPropagated.Inc()
	m.tasksCancelled.Add(float64(taskCount))
}

// Deadlock Metrics

// RecordDeadlockTimeout records a guarded operation that hit its timeout.
func (m *Metrics) RecordDeadlockTimeout(operation string) {
	if m == nil || m.deadlockTimeouts == nil {
		return
	}
	m.deadlockTimeouts.WithLabelValues(operation).Inc()
}

// Resource Coordination Metrics

// RecordAcquisition records a resource acquisition attempt by outcome
// (granted, queued, cancelled, rejected).
func (m *Metrics) RecordAcquisition(outcome string) {
	if m == nil || m.acquisitionsTotal == nil {
		return
	}
	m.acquisitionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAcquireWait records how long a requester waited for ownership.
func (m *Metrics) ObserveAcquireWait(resource string, duration time.Duration) {
	if m == nil || m.acquireWaitDuration == nil {
		return
	}
	m.acquireWaitDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordPriorityBoost records one priority inheritance boost.
func (m *Metrics) RecordPriorityBoost() {
	if m == nil || m.priorityBoosts == nil {
		return
	}
	m.priorityBoosts.Inc()
}

// SetResourceWaiters sets the queued requester gauge for a resource.
func (m *Metrics) SetResourceWaiters(resource string, count float64) {
	if m == nil || m.resourceWaiters == nil {
		return
	}
	m.resourceWaiters.WithLabelValues(resource).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
