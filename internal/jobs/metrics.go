package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for job runs.
//
// Metrics:
//   - reminder_job_runs_total{job,status} - runs by status (ok, error, skipped)
//   - reminder_job_results_total{job,outcome} - per-entity outcomes
//   - reminder_job_duration_seconds{job} - run duration
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	ResultsTotal *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
}

// NewMetrics registers the job metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_job_runs_total",
				Help: "Total number of job runs by status",
			},
			[]string{"job", "status"},
		),
		ResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_job_results_total",
				Help: "Total number of per-reminder outcomes produced by job runs",
			},
			[]string{"job", "outcome"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reminder_job_duration_seconds",
				Help:    "Duration of job runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

func (m *Metrics) observe(job, status string, report *Report, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(job, status).Inc()
	if status == "skipped" {
		return
	}
	m.Duration.WithLabelValues(job).Observe(seconds)
	if report == nil {
		return
	}
	for outcome, n := range report.Counts() {
		m.ResultsTotal.WithLabelValues(job, string(outcome)).Add(float64(n))
	}
}
