// Package metrics exports run and stage metrics in the Prometheus text format
// for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the metrics of one process
type Recorder struct {
	registry *prometheus.Registry

	// stageTotal counts finished stages by stage and status
	stageTotal *prometheus.CounterVec

	// stageDuration tracks wall time of executed stages
	stageDuration *prometheus.HistogramVec

	// stageRunning is 1 while a stage is executing
	stageRunning *prometheus.GaugeVec

	// runsTotal counts finished runs by status
	runsTotal *prometheus.CounterVec

	// lastRunTimestamp is the finish time of the latest run
	lastRunTimestamp prometheus.Gauge

	// samplesCompleted counts samples whose stages all finished
	samplesCompleted prometheus.Counter
}

// New creates a Recorder with its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		stageTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "methyl_stage_total",
			Help: "Total finished pipeline stages by stage and status",
		}, []string{"stage", "status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "methyl_stage_duration_seconds",
			Help:    "Pipeline stage wall time in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9), // 1s to ~18h
		}, []string{"stage"}),
		stageRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "methyl_stage_running",
			Help: "Whether a pipeline stage is currently executing",
		}, []string{"stage"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "methyl_runs_total",
			Help: "Total finished pipeline runs by status",
		}, []string{"status"}),
		lastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "methyl_last_run_timestamp_seconds",
			Help: "Unix time the most recent run finished",
		}),
		samplesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "methyl_samples_completed_total",
			Help: "Total samples that finished every stage",
		}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// StageStarted marks a stage as executing
func (r *Recorder) StageStarted(sample, stage string) {
	r.stageRunning.WithLabelValues(stage).Set(1)
}

// StageFinished records a stage outcome. Skipped stages carry no duration.
func (r *Recorder) StageFinished(sample, stage string, status domain.StageStatus, d time.Duration) {
	r.stageRunning.WithLabelValues(stage).Set(0)
	r.stageTotal.WithLabelValues(stage, string(status)).Inc()
	if status != domain.StageSkipped {
		r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// SampleCompleted counts a sample that went through every stage
func (r *Recorder) SampleCompleted(sample string) {
	r.samplesCompleted.Inc()
}

// RunFinished records the terminal status of a run
func (r *Recorder) RunFinished(status domain.RunStatus, at time.Time) {
	r.runsTotal.WithLabelValues(string(status)).Inc()
	r.lastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile atomically writes all metrics to path. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
