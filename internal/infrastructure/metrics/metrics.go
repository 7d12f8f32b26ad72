// Package metrics exposes run counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PageHarvester/internal/domain"
)

const namespace = "pageharvester"

// Metrics holds the run collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	ItemsTotal       *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	LastRunTimestamp *prometheus.GaugeVec
}

// New registers the collectors in a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Job runs by job type and final status.",
		}, []string{"job_type", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"job_type"}),
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items seen by pipeline stage.",
		}, []string{"job", "stage"}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "New items that could not be delivered.",
		}, []string{"job"}),
		LastRunTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time a job's last run completed.",
		}, []string{"job"}),
	}
}

// ObserveRun records a finalized run.
func (m *Metrics) ObserveRun(job domain.Job, entry domain.ExecutionLog) {
	jobType := string(job.Type)
	m.RunsTotal.WithLabelValues(jobType, string(entry.Status)).Inc()
	m.RunDuration.WithLabelValues(jobType).Observe(entry.Duration)

	m.ItemsTotal.WithLabelValues(job.Name, "extracted").Add(float64(entry.ItemsExtracted))
	m.ItemsTotal.WithLabelValues(job.Name, "new").Add(float64(entry.ItemsNew))
	m.ItemsTotal.WithLabelValues(job.Name, "duplicate").Add(float64(entry.ItemsDuplicate))
	m.ItemsTotal.WithLabelValues(job.Name, "sent").Add(float64(entry.ItemsSent))
	if failed := entry.ItemsNew - entry.ItemsSent; failed > 0 && entry.Status == domain.RunPartial {
		m.DeliveryFailures.WithLabelValues(job.Name).Add(float64(failed))
	}
	if entry.CompletedAt != nil {
		m.LastRunTimestamp.WithLabelValues(job.Name).Set(float64(entry.CompletedAt.Unix()))
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
