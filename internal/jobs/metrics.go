package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// jobBuckets covers the expected runtimes, from quick cache warmups to
// full-ledger integrity sweeps.
var jobBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	payments *prometheus.CounterVec
	now      func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job collectors against registerer. A nil
// registerer selects the default Prometheus registerer; that variant is
// built once and shared, since double registration panics.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{now: time.Now}
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_jobs_total",
		Help: "Job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_jobs_failures_total",
		Help: "Failed job executions by job name.",
	}, []string{"job"})
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vantage_job_duration_seconds",
		Help:    "Job execution duration in seconds.",
		Buckets: jobBuckets,
	}, []string{"job"})
	m.payments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vantage_payment_sync_outcomes_total",
		Help: "Payments processed by the sync sweep, by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(m.runs, m.failures, m.duration, m.payments)
	return m
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for job. Safe on a nil receiver; the tracker
// then records nothing.
func (m *Metrics) Track(job string) *Tracker {
	t := &Tracker{job: job, start: time.Now()}
	if m != nil {
		t.metrics = m
		t.start = m.now()
	}
	return t
}

// End records duration and outcome for the run and passes err through,
// so handlers can `return tracker.End(work(ctx))`.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(t.metrics.now().Sub(t.start).Seconds())
	return err
}

// AddPaymentOutcomes records the result split of one payments sync sweep.
func (m *Metrics) AddPaymentOutcomes(synced, failed int) {
	if m == nil {
		return
	}
	if synced > 0 {
		m.payments.WithLabelValues("synced").Add(float64(synced))
	}
	if failed > 0 {
		m.payments.WithLabelValues("failed").Add(float64(failed))
	}
}
