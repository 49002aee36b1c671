// Package metrics records pipeline run metrics and exports them for the
// node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline label values.
const (
	PipelineTrain = "train"
	PipelineScore = "score"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder holds the gpuwatch metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	Duration          *prometheus.GaugeVec
	RowsProcessed     *prometheus.GaugeVec
	AnomaliesFlagged  prometheus.Gauge
	DecisionThreshold prometheus.Gauge
	LastSuccess       *prometheus.GaugeVec
}

// NewRecorder registers the metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpuwatch_pipeline_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"pipeline", "status"},
		),
		// A gauge rather than a histogram: each batch process exports one run.
		Duration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpuwatch_pipeline_duration_seconds",
				Help: "Duration of the last pipeline run in seconds",
			},
			[]string{"pipeline"},
		),
		RowsProcessed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpuwatch_rows_processed",
				Help: "Daily rows processed by the last pipeline run",
			},
			[]string{"pipeline"},
		),
		AnomaliesFlagged: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gpuwatch_anomalies_flagged",
				Help: "Days flagged anomalous by the last scoring run",
			},
		),
		DecisionThreshold: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gpuwatch_decision_threshold",
				Help: "Raw-score offset of the current model",
			},
		),
		LastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpuwatch_last_success_timestamp_seconds",
				Help: "Unix time of the last successful pipeline run",
			},
			[]string{"pipeline"},
		),
	}
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records the outcome of one pipeline run.
func (r *Recorder) ObserveRun(pipeline string, started, finished time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	r.RunsTotal.WithLabelValues(pipeline, status).Inc()
	r.Duration.WithLabelValues(pipeline).Set(finished.Sub(started).Seconds())
	if err == nil {
		r.LastSuccess.WithLabelValues(pipeline).Set(float64(finished.Unix()))
	}
}

// WriteTextfile writes the registry to filename, creating its directory.
func (r *Recorder) WriteTextfile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(filename, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
