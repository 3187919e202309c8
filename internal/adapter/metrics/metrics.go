package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements ports.MetricsRecorder with Prometheus collectors.
type Metrics struct {
	lockAcquireTotal   *prometheus.CounterVec
	lockAcquireSeconds *prometheus.HistogramVec
	lockHeldSeconds    prometheus.Histogram
	operationsTotal    *prometheus.CounterVec
	operationSeconds   *prometheus.HistogramVec
	webhookEventsTotal *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		lockAcquireTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "acquire_total",
				Help:      "Total lock acquisitions partitioned by result.",
			},
			[]string{"result"},
		),
		lockAcquireSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "acquire_seconds",
				Help:      "Time spent acquiring a lock set, retries included.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"result"},
		),
		lockHeldSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "held_seconds",
				Help:      "Time a lock set was held by a critical section.",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "operations_total",
				Help:      "Total wallet operations by operation and result code.",
			},
			[]string{"operation", "result"},
		),
		operationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "operation_seconds",
				Help:      "Wallet operation latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		webhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "events_total",
				Help:      "Provider events processed by event type and result.",
			},
			[]string{"event", "result"},
		),
	}
}

func (m *Metrics) ObserveLockAcquire(result string, elapsed time.Duration) {
	m.lockAcquireTotal.WithLabelValues(result).Inc()
	m.lockAcquireSeconds.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveLockHeld(held time.Duration) {
	m.lockHeldSeconds.Observe(held.Seconds())
}

func (m *Metrics) ObserveOperation(operation, result string, elapsed time.Duration) {
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveWebhook(event, result string) {
	m.webhookEventsTotal.WithLabelValues(event, result).Inc()
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) ObserveLockAcquire(string, time.Duration)       {}
func (Noop) ObserveLockHeld(time.Duration)                  {}
func (Noop) ObserveOperation(string, string, time.Duration) {}
func (Noop) ObserveWebhook(string, string)                  {}
