package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the
// best-effort invoice side effects.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	schedules   *prometheus.CounterVec
	overdue     prometheus.Counter
	sideEffects *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
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
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddScheduleRun counts the outcome of one schedule generation run.
func (m *Metrics) AddScheduleRun(generated, skipped, failed int) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{"generated": generated, "skipped": skipped, "failed": failed} {
		if n > 0 {
			m.schedules.WithLabelValues(outcome).Add(float64(n))
		}
	}
}

// AddOverdue counts invoices moved to OVERDUE.
func (m *Metrics) AddOverdue(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.overdue.Add(float64(count))
}

// SideEffectFailed counts a failed notification or bill call.
func (m *Metrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(effect).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicing_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	schedules := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_schedule_invoices_total",
		Help: "Due schedules processed, by outcome.",
	}, []string{"outcome"})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoicing_invoices_overdue_total",
		Help: "Invoices moved to OVERDUE by the sweep.",
	})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_side_effect_failures_total",
		Help: "Failed best-effort invoice side effects, by effect.",
	}, []string{"effect"})
	registerer.MustRegister(runs, failures, duration, schedules, overdue, sideEffects)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		schedules:   schedules,
		overdue:     overdue,
		sideEffects: sideEffects,
	}
}
