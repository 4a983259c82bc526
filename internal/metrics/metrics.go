// Package metrics exposes ingestion counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tcga_pipeline"

// Collector groups the pipeline's Prometheus collectors. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry        *prometheus.Registry
	rowsPersisted   *prometheus.CounterVec
	rowsSkipped     *prometheus.CounterVec
	valuesNaN       *prometheus.CounterVec
	batchFailures   *prometheus.CounterVec
	cohortOutcomes  *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	statisticsCalls *prometheus.CounterVec
}

// NewCollector creates collectors registered on a private registry together
// with the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_persisted_total",
			Help:      "Patient records committed to the record store.",
		}, []string{"cohort"}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Data rows dropped for a field count mismatch.",
		}, []string{"cohort"}),
		valuesNaN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_unparsable_total",
			Help:      "Expression fields recorded as NaN.",
		}, []string{"cohort"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Record batches that failed to commit.",
		}, []string{"cohort"}),
		cohortOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cohort_runs_total",
			Help:      "Cohort processing runs by outcome.",
		}, []string{"cohort", "outcome"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of a single file ingestion.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"cohort"}),
		statisticsCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statistics_requests_total",
			Help:      "Statistics queries by kind and result.",
		}, []string{"kind", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.rowsPersisted,
		c.rowsSkipped,
		c.valuesNaN,
		c.batchFailures,
		c.cohortOutcomes,
		c.ingestDuration,
		c.statisticsCalls,
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RowsPersisted(cohort string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsPersisted.WithLabelValues(cohort).Add(float64(n))
}

func (c *Collector) RowSkipped(cohort string) {
	if c == nil {
		return
	}
	c.rowsSkipped.WithLabelValues(cohort).Inc()
}

func (c *Collector) ValueUnparsable(cohort string) {
	if c == nil {
		return
	}
	c.valuesNaN.WithLabelValues(cohort).Inc()
}

func (c *Collector) BatchFailed(cohort string) {
	if c == nil {
		return
	}
	c.batchFailures.WithLabelValues(cohort).Inc()
}

// IngestFinished records the duration and outcome of one file ingestion.
func (c *Collector) IngestFinished(cohort string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "completed"
	}
	c.cohortOutcomes.WithLabelValues(cohort, outcome).Inc()
	c.ingestDuration.WithLabelValues(cohort).Observe(d.Seconds())
}

// StatisticsServed counts a statistics query. result is "ok", "no_data" or "error".
func (c *Collector) StatisticsServed(kind, result string) {
	if c == nil {
		return
	}
	c.statisticsCalls.WithLabelValues(kind, result).Inc()
}
