// Package metrics records run metrics and writes them in the Prometheus
// text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poltergeist/invoker/pkg/types"
)

const namespace = "invoker"

// Recorder collects metrics of one run on its own registry
type Recorder struct {
	registry    *prometheus.Registry
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	runDuration prometheus.Gauge
	threads     prometheus.Gauge
}

// NewRecorder creates a recorder with a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs by result and type.",
		}, []string{"result", "type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job duration including hooks and all invocations.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"type"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall clock duration of the whole run.",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parallel_threads",
			Help:      "Configured number of worker threads.",
		}),
	}
	r.registry.MustRegister(r.jobs, r.jobDuration, r.runDuration, r.threads)
	return r
}

// Registry returns the registry, for tests and embedding
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveJob records a finished job
func (r *Recorder) ObserveJob(job *types.BuildJob) {
	r.jobs.WithLabelValues(string(job.Result), string(job.Type)).Inc()
	r.jobDuration.WithLabelValues(string(job.Type)).Observe(job.Time)
}

// SetRunDuration records the wall clock time of the run
func (r *Recorder) SetRunDuration(d time.Duration) {
	r.runDuration.Set(d.Seconds())
}

// SetThreads records the worker count
func (r *Recorder) SetThreads(n int) {
	r.threads.Set(float64(n))
}

// WriteFile writes all metrics to path in the text exposition format
func (r *Recorder) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
