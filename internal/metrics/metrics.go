// Package metrics holds the Prometheus collectors for device memory and
// inference activity. Collectors are registered with the default registry in
// init, so importing the package is enough to expose them on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omrun",
			Subsystem: "memory",
			Name:      "allocations_total",
			Help:      "Total number of runtime buffer allocations",
		},
		[]string{"space", "purpose"},
	)

	bytesInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "omrun",
			Subsystem: "memory",
			Name:      "bytes_in_use",
			Help:      "Bytes currently held in runtime buffers",
		},
		[]string{"space"},
	)

	inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "omrun",
			Subsystem: "model",
			Name:      "execute_duration_seconds",
			Help:      "Duration of model execution calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	inferencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omrun",
			Subsystem: "model",
			Name:      "executions_total",
			Help:      "Total number of model execution calls",
		},
		[]string{"status"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omrun",
			Subsystem: "driver",
			Name:      "errors_total",
			Help:      "Driver failures by kind",
		},
		[]string{"kind"},
	)

	unloadNoopTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "omrun",
			Subsystem: "model",
			Name:      "unload_noop_total",
			Help:      "Unload calls on a model that was not loaded",
		},
	)
)

func init() {
	prometheus.MustRegister(allocationsTotal, bytesInUse, inferenceDuration, inferencesTotal, errorsTotal, unloadNoopTotal)
}

// Alloc records a successful allocation of n bytes.
func Alloc(space, purpose string, n uint64) {
	allocationsTotal.WithLabelValues(space, purpose).Inc()
	bytesInUse.WithLabelValues(space).Add(float64(n))
}

// Free records the release of n bytes.
func Free(space string, n uint64) {
	bytesInUse.WithLabelValues(space).Sub(float64(n))
}

// Execution records one execute call.
func Execution(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	inferencesTotal.WithLabelValues(status).Inc()
	inferenceDuration.Observe(d.Seconds())
}

// Error counts a failure of the given kind. Empty kinds are reported as
// "unspecified".
func Error(kind string) {
	if kind == "" {
		kind = "unspecified"
	}
	errorsTotal.WithLabelValues(kind).Inc()
}

// UnloadNoop counts an unload of an unloaded model.
func UnloadNoop() { unloadNoopTotal.Inc() }
