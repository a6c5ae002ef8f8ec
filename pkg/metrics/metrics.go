// Package metrics exposes copy-out dispatch progress to Prometheus.
package metrics

import (
	"net/http"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements copyout.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsInFlight       prometheus.Gauge
	jobsSubmittedTotal prometheus.Counter
	jobsCompletedTotal *prometheus.CounterVec
	jobsRetriedTotal   prometheus.Counter
	batchesTotal       *prometheus.CounterVec
	runsTotal          *prometheus.CounterVec
}

var _ copyout.Observer = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "copyout_jobs_in_flight",
		Help: "Number of copy jobs submitted and not yet terminal.",
	})
	m.jobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copyout_jobs_submitted_total",
		Help: "Total number of copy jobs accepted by the fleet.",
	})
	m.jobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copyout_jobs_completed_total",
		Help: "Total number of copy jobs that reached a terminal state.",
	}, []string{"status"})
	m.jobsRetriedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copyout_jobs_retried_total",
		Help: "Total number of resubmissions after a submission or fleet failure.",
	})
	m.batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copyout_batches_total",
		Help: "Total number of batches by final status.",
	}, []string{"status"})
	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copyout_runs_total",
		Help: "Total number of runs by final status.",
	}, []string{"status"})

	reg.MustRegister(
		m.jobsInFlight,
		m.jobsSubmittedTotal,
		m.jobsCompletedTotal,
		m.jobsRetriedTotal,
		m.batchesTotal,
		m.runsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted(string) {
	if m == nil {
		return
	}
	m.jobsSubmittedTotal.Inc()
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobFinished(_ string, status copyout.JobStatus) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobsCompletedTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) JobRetried(string) {
	if m == nil {
		return
	}
	m.jobsRetriedTotal.Inc()
}

func (m *Metrics) BatchFinished(_ string, status copyout.JobStatus) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) RunFinished(_ string, status copyout.RunStatus) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(status)).Inc()
}
