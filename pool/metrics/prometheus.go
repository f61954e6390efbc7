package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusTracker is a Tracker backed by a dedicated Prometheus registry,
// grounded on the teacher's metrics.Collector: one registry per pool rather
// than the global default, so multiple pools in one process never collide.
type PrometheusTracker struct {
	registry *prometheus.Registry

	acquisitionDuration prometheus.Histogram
	creationDuration    prometheus.Histogram
	validationDuration  prometheus.Histogram
	usageDuration       prometheus.Histogram

	timeouts      prometheus.Counter
	breakerTrips  prometheus.Counter
	leaksDetected prometheus.Counter

	acquisitionsTotal prometheus.Counter
	releasesTotal     prometheus.Counter
	creationsTotal    prometheus.Counter
	removalsTotal     prometheus.Counter

	gauges *prometheus.GaugeVec

	mem *MemoryTracker // backs Snapshot() so callers get one Tracker API either way
}

// NewPrometheusTracker builds a PrometheusTracker and registers its
// collectors on a fresh, private registry.
func NewPrometheusTracker(namespace string) *PrometheusTracker {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusTracker{
		registry: registry,
		acquisitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquisition_duration_seconds",
			Help:      "Time spent acquiring a connection from the pool.",
			Buckets:   prometheus.DefBuckets,
		}),
		creationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "creation_duration_seconds",
			Help:      "Time spent establishing a new physical connection.",
			Buckets:   prometheus.DefBuckets,
		}),
		validationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "validation_duration_seconds",
			Help:      "Time spent validating a connection's liveness.",
			Buckets:   prometheus.DefBuckets,
		}),
		usageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "usage_duration_seconds",
			Help:      "Time a borrowed connection was held before release.",
			Buckets:   prometheus.DefBuckets,
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquisition_timeouts_total",
			Help:      "Number of GetConnection calls that timed out.",
		}),
		breakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "breaker_trips_total",
			Help:      "Number of times the circuit breaker has tripped open.",
		}),
		leaksDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "leaks_detected_total",
			Help:      "Number of connections held past the leak-detection threshold.",
		}),
		acquisitionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquisitions_total",
			Help:      "Number of connections successfully borrowed from the pool.",
		}),
		releasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "releases_total",
			Help:      "Number of connections returned to the pool.",
		}),
		creationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "creations_total",
			Help:      "Number of physical connections created.",
		}),
		removalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "removals_total",
			Help:      "Number of physical connections removed from the pool.",
		}),
		gauges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "gauge",
			Help:      "Arbitrary named pool gauges (size, idle, active, ...).",
		}, []string{"name"}),
		mem: NewMemoryTracker(),
	}
}

// Registry returns the private registry backing this tracker, for mounting
// under an HTTP handler (see admin.Server).
func (t *PrometheusTracker) Registry() *prometheus.Registry { return t.registry }

func (t *PrometheusTracker) RecordAcquisition(d time.Duration) {
	t.acquisitionDuration.Observe(d.Seconds())
	t.mem.RecordAcquisition(d)
}

func (t *PrometheusTracker) RecordCreation(d time.Duration) {
	t.creationDuration.Observe(d.Seconds())
	t.mem.RecordCreation(d)
}

func (t *PrometheusTracker) RecordValidation(d time.Duration) {
	t.validationDuration.Observe(d.Seconds())
	t.mem.RecordValidation(d)
}

func (t *PrometheusTracker) IncrementTimeouts() {
	t.timeouts.Inc()
	t.mem.IncrementTimeouts()
}

func (t *PrometheusTracker) IncrementBreakerTrips() {
	t.breakerTrips.Inc()
	t.mem.IncrementBreakerTrips()
}

func (t *PrometheusTracker) IncrementLeaksDetected() {
	t.leaksDetected.Inc()
	t.mem.IncrementLeaksDetected()
}

func (t *PrometheusTracker) RecordUsage(d time.Duration) {
	t.usageDuration.Observe(d.Seconds())
	t.mem.RecordUsage(d)
}

func (t *PrometheusTracker) IncrementAcquisitions() {
	t.acquisitionsTotal.Inc()
	t.mem.IncrementAcquisitions()
}

func (t *PrometheusTracker) IncrementReleases() {
	t.releasesTotal.Inc()
	t.mem.IncrementReleases()
}

func (t *PrometheusTracker) IncrementCreations() {
	t.creationsTotal.Inc()
	t.mem.IncrementCreations()
}

func (t *PrometheusTracker) IncrementRemovals() {
	t.removalsTotal.Inc()
	t.mem.IncrementRemovals()
}

func (t *PrometheusTracker) SetGauge(name string, value float64) {
	t.gauges.WithLabelValues(name).Set(value)
	t.mem.SetGauge(name, value)
}

func (t *PrometheusTracker) Snapshot() Snapshot {
	return t.mem.Snapshot()
}
