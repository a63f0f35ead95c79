package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_pipeline_runs_total",
			Help: "Total number of pipeline runs by final status.",
		},
		[]string{"status"},
	)

	pipelineRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentsql_pipeline_run_duration_seconds",
			Help:    "End-to-end pipeline run latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	evaluationAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentsql_evaluation_execution_accuracy",
			Help: "Execution accuracy of the most recent evaluation run.",
		},
	)
)

func init() {
	prometheus.MustRegister(pipelineRunsTotal, pipelineRunDurationSeconds, evaluationAccuracy)
}

func ObservePipelineRun(status string, elapsed time.Duration) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
	pipelineRunDurationSeconds.Observe(elapsed.Seconds())
}

func SetEvaluationAccuracy(accuracy float64) {
	evaluationAccuracy.Set(accuracy)
}

func WriteMetricsFile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
