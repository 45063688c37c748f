package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Exec metrics
	ExecTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_exec_total",
			Help: "Total number of exec invocations by mnemonic and outcome",
		},
		[]string{"mnemonic", "outcome"},
	)

	ExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_exec_duration_seconds",
			Help:    "Wall-clock duration of exec invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mnemonic"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_fallback_total",
			Help: "Total number of invocations delegated to the one-shot fallback runner, by mnemonic",
		},
		[]string{"mnemonic"},
	)

	// Pool metrics
	PoolBorrowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_pool_borrow_total",
			Help: "Total number of worker borrow attempts by mnemonic and outcome",
		},
		[]string{"mnemonic", "outcome"},
	)

	PoolReturnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_pool_return_total",
			Help: "Total number of workers returned healthy to the pool, by mnemonic",
		},
		[]string{"mnemonic"},
	)

	PoolInvalidateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_pool_invalidate_total",
			Help: "Total number of workers invalidated, by mnemonic and triggering failure kind",
		},
		[]string{"mnemonic", "reason"},
	)

	PoolIdleWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_pool_idle_workers",
			Help: "Number of idle (returned) workers currently held per mnemonic",
		},
		[]string{"mnemonic"},
	)

	// Driver metrics
	DriverResponseBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_driver_response_bytes",
			Help:    "Size in bytes of parsed WorkResponse output payloads",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	// Resource manager metrics
	ResourceAcquireWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_resource_acquire_wait_seconds",
			Help:    "Time spent blocked acquiring a scoped resource handle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResourcesInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_resources_in_use",
			Help: "Currently reserved local resources by kind (cpu, memory_mb)",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(ExecTotal)
	prometheus.MustRegister(ExecDuration)
	prometheus.MustRegister(FallbackTotal)
	prometheus.MustRegister(PoolBorrowTotal)
	prometheus.MustRegister(PoolReturnTotal)
	prometheus.MustRegister(PoolInvalidateTotal)
	prometheus.MustRegister(PoolIdleWorkers)
	prometheus.MustRegister(DriverResponseBytes)
	prometheus.MustRegister(ResourceAcquireWaitDuration)
	prometheus.MustRegister(ResourcesInUse)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
