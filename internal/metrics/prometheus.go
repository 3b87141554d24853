package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Resolver metrics
	ResolutionsTotal    *prometheus.CounterVec
	ResolverCacheHits   *prometheus.CounterVec
	ResolverCacheMisses prometheus.Counter

	// Job metrics
	JobsEnqueuedTotal  *prometheus.CounterVec
	JobsProcessedTotal *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobsDeadLettered   *prometheus.CounterVec
	ActiveWorkers      prometheus.Gauge

	// Scheduler metrics
	SchedulerFires       *prometheus.CounterVec
	SchedulerFanoutFails prometheus.Counter
}

// NewMetrics creates and registers Prometheus metrics on the given
// registerer. Mains pass the default registerer; tests pass a fresh
// registry so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_resolutions_total",
				Help: "Total number of routing key resolutions by outcome",
			},
			[]string{"outcome"},
		),

		ResolverCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_resolver_cache_hits_total",
				Help: "Total number of resolver cache hits",
			},
			[]string{"kind"},
		),

		ResolverCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_resolver_cache_misses_total",
				Help: "Total number of resolver cache misses",
			},
		),

		JobsEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_jobs_enqueued_total",
				Help: "Total number of envelopes enqueued",
			},
			[]string{"kind"},
		),

		JobsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_jobs_processed_total",
				Help: "Total number of envelopes processed by outcome",
			},
			[]string{"kind", "outcome"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_job_duration_seconds",
				Help:    "Duration of job body execution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		JobsDeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_jobs_dead_lettered_total",
				Help: "Total number of envelopes moved to dead-letter",
			},
			[]string{"kind", "failure_code"},
		),

		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_active_workers",
				Help: "Number of workers currently executing a job",
			},
		),

		SchedulerFires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_scheduler_fires_total",
				Help: "Total number of schedule entry fires",
			},
			[]string{"kind"},
		),

		SchedulerFanoutFails: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_scheduler_fanout_failures_total",
				Help: "Total number of per-partition enqueue failures during fan-out",
			},
		),
	}
}
