// Package metrics exports workflow metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements ports.Recorder on its own registry.
type Recorder struct {
	workflows    *prometheus.CounterVec
	workflowTime *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepTime     *prometheus.HistogramVec
	registry     *prometheus.Registry
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		workflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_migrations_total",
				Help: "Total number of migration workflows by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		workflowTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lighthouse_migration_duration_seconds",
				Help:    "Migration workflow duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_migration_steps_total",
				Help: "Total number of workflow steps by result",
			},
			[]string{"workflow", "step", "result"},
		),
		stepTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lighthouse_migration_step_duration_seconds",
				Help:    "Workflow step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow", "step"},
		),
		registry: registry,
	}
	registry.MustRegister(r.workflows, r.workflowTime, r.steps, r.stepTime)
	return r
}

func (r *Recorder) ObserveWorkflow(workflow string, outcome domain.Outcome, d time.Duration) {
	r.workflows.WithLabelValues(workflow, string(outcome)).Inc()
	r.workflowTime.WithLabelValues(workflow).Observe(d.Seconds())
}

func (r *Recorder) ObserveStep(workflow, step string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.steps.WithLabelValues(workflow, step, result).Inc()
	r.stepTime.WithLabelValues(workflow, step).Observe(d.Seconds())
}

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
