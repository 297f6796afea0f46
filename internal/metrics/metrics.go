// Package metrics exposes the pipeline's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace is the namespace for all pipeline metrics.
const MetricsNamespace = "eventpipe"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	JobsClaimedTotal   prometheus.Counter
	JobsCompletedTotal prometheus.Counter
	JobsFailedTotal    prometheus.Counter
	JobsRequeuedTotal  *prometheus.CounterVec // reason: proxy_retry | stale_reap | dlq_retry

	EventsScrapedTotal   prometheus.Counter
	EventsInsertedTotal  prometheus.Counter
	EventsDuplicateTotal *prometheus.CounterVec // level: content_hash | fingerprint | semantic
	EventsRejectedTotal  *prometheus.CounterVec // reason

	FetchDurationSeconds *prometheus.HistogramVec // strategy
	FetchErrorsTotal     *prometheus.CounterVec   // strategy, kind

	DLQDepth        prometheus.Gauge
	DLQInsertsTotal *prometheus.CounterVec // stage

	HealAttemptsTotal *prometheus.CounterVec // outcome: applied | rejected | failed

	LLMCallsTotal      *prometheus.CounterVec   // provider, outcome
	LLMDurationSeconds *prometheus.HistogramVec // provider
}

// New creates and registers all pipeline metrics. A nil registerer
// uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsClaimedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "worker",
			Name: "jobs_claimed_total", Help: "Total scrape jobs claimed",
		}),
		JobsCompletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "worker",
			Name: "jobs_completed_total", Help: "Total scrape jobs completed",
		}),
		JobsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "worker",
			Name: "jobs_failed_total", Help: "Total scrape jobs failed",
		}),
		JobsRequeuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "worker",
			Name: "jobs_requeued_total", Help: "Jobs returned to pending",
		}, []string{"reason"}),

		EventsScrapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "events",
			Name: "scraped_total", Help: "Raw event cards extracted",
		}),
		EventsInsertedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "events",
			Name: "inserted_total", Help: "Events inserted",
		}),
		EventsDuplicateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "events",
			Name: "duplicates_total", Help: "Events dropped as duplicates",
		}, []string{"level"}),
		EventsRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "events",
			Name: "rejected_total", Help: "Events rejected during normalization",
		}, []string{"reason"}),

		FetchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace, Subsystem: "fetch",
			Name: "duration_seconds", Help: "Page fetch duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		FetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "fetch",
			Name: "errors_total", Help: "Fetch failures",
		}, []string{"strategy", "kind"}),

		DLQDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace, Subsystem: "dlq",
			Name: "depth", Help: "Pending plus retrying dead letter items",
		}),
		DLQInsertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "dlq",
			Name: "inserts_total", Help: "Items added to the dead letter queue",
		}, []string{"stage"}),

		HealAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "healer",
			Name: "attempts_total", Help: "Selector healing attempts",
		}, []string{"outcome"}),

		LLMCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace, Subsystem: "llm",
			Name: "calls_total", Help: "LLM calls",
		}, []string{"provider", "outcome"}),
		LLMDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace, Subsystem: "llm",
			Name: "duration_seconds", Help: "LLM call duration",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
	}
}
