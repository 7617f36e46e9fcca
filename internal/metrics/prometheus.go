// Package metrics wires Prometheus collectors scoped to provider
// invocations, transaction lifecycles, and circuit breaker state — the
// series a host operator needs to watch the dataflow engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps every collector this package registers.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	invocationsTotal    *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec
	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	dispatchesTotal     *prometheus.CounterVec

	activeTransactions prometheus.Gauge

	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus builds and registers every collector under namespace.
// Every Record*/Set* function below is a no-op until this has run, so
// callers that never enable metrics ("operational concerns such
// as ... metrics... are out of scope for the core dataflow contract")
// pay nothing beyond the nil check.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of provider invocations",
			},
			[]string{"provider", "operation", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of provider invocations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of completed transactions",
			},
			[]string{"schematic", "status"},
		),
		transactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_milliseconds",
				Help:      "End-to-end duration of a transaction in milliseconds",
				Buckets:   buckets,
			},
			[]string{"schematic"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of instance dispatches across all transactions",
			},
			[]string{"schematic", "instance"},
		),
		activeTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transactions",
				Help:      "Number of transactions currently in flight",
			},
		),
		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"instance"},
		),
		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total circuit breaker state transitions",
			},
			[]string{"instance", "to_state"},
		),
	}

	registry.MustRegister(
		pm.invocationsTotal,
		pm.invocationDuration,
		pm.transactionsTotal,
		pm.transactionDuration,
		pm.dispatchesTotal,
		pm.activeTransactions,
		pm.circuitBreakerState,
		pm.circuitBreakerTripsTotal,
	)

	promMetrics = pm
}

// RecordInvocation records one provider invocation's outcome and duration.
func RecordInvocation(provider, operation string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.invocationsTotal.WithLabelValues(provider, operation, status).Inc()
	promMetrics.invocationDuration.WithLabelValues(provider, operation).Observe(float64(durationMs))
}

// RecordTransaction records one transaction's terminal Summary.
func RecordTransaction(schematic string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.transactionsTotal.WithLabelValues(schematic, status).Inc()
	promMetrics.transactionDuration.WithLabelValues(schematic).Observe(float64(durationMs))
}

// RecordDispatch records one instance firing within a transaction.
func RecordDispatch(schematic, instance string) {
	if promMetrics == nil {
		return
	}
	promMetrics.dispatchesTotal.WithLabelValues(schematic, instance).Inc()
}

// IncActiveTransactions increments the in-flight transaction gauge.
func IncActiveTransactions() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeTransactions.Inc()
}

// DecActiveTransactions decrements the in-flight transaction gauge.
func DecActiveTransactions() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeTransactions.Dec()
}

// SetCircuitBreakerState sets the breaker state gauge for instance.
// state: 0=closed, 1=open, 2=half_open, matching circuitbreaker.State's
// own ordering.
func SetCircuitBreakerState(instance string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.WithLabelValues(instance).Set(float64(state))
}

// RecordCircuitBreakerTrip records a breaker transitioning to toState.
func RecordCircuitBreakerTrip(instance, toState string) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerTripsTotal.WithLabelValues(instance, toState).Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func Handler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying prometheus registry, for tests or custom
// collectors.
func Registry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
