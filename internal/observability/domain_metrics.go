package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const UnknownStrategyLabel = "unknown"

var (
	demonstrationSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_demonstration_selections_total",
			Help: "Total number of demonstration selections by strategy and result.",
		},
		[]string{"strategy", "result"},
	)
	demonstrationsSelectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_demonstrations_selected_total",
			Help: "Total number of demonstrations returned by strategy.",
		},
		[]string{"strategy"},
	)
	demonstrationSelectionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentsql_demonstration_selection_latency_ms",
			Help:    "Demonstration selection latency in milliseconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"strategy"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_llm_requests_total",
			Help: "Total number of chat completion requests by model and result.",
		},
		[]string{"model", "result"},
	)
	llmRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_llm_retries_total",
			Help: "Total number of retried chat completion attempts.",
		},
		[]string{"model"},
	)
	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_llm_tokens_total",
			Help: "Total number of prompt and completion tokens.",
		},
		[]string{"model", "kind"},
	)
	llmCostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_llm_cost_usd_total",
			Help: "Estimated prompt cost in US dollars.",
		},
		[]string{"model"},
	)
	sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsql_sql_executions_total",
			Help: "Total number of SQL executions by engine and status.",
		},
		[]string{"engine", "status"},
	)
	sqlExecutionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentsql_sql_execution_latency_ms",
			Help:    "SQL execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"engine"},
	)
)

func init() {
	prometheus.MustRegister(
		demonstrationSelectionsTotal,
		demonstrationsSelectedTotal,
		demonstrationSelectionLatencyMs,
		llmRequestsTotal,
		llmRetriesTotal,
		llmTokensTotal,
		llmCostUSDTotal,
		sqlExecutionsTotal,
		sqlExecutionLatencyMs,
	)
}

func ObserveDemonstrationSelection(strategy string, k int, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	demonstrationSelectionsTotal.WithLabelValues(strategy, result).Inc()
	if err == nil && k > 0 {
		demonstrationsSelectedTotal.WithLabelValues(strategy).Add(float64(k))
	}
	demonstrationSelectionLatencyMs.WithLabelValues(strategy).Observe(float64(elapsed.Microseconds()) / 1000)
}

func ObserveLLMRequest(model string, promptTokens, completionTokens int, costUSD float64, err error) {
	if err != nil {
		llmRequestsTotal.WithLabelValues(model, "error").Inc()
		return
	}
	llmRequestsTotal.WithLabelValues(model, "ok").Inc()
	if promptTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		llmCostUSDTotal.WithLabelValues(model).Add(costUSD)
	}
}

func IncrementLLMRetry(model string) {
	llmRetriesTotal.WithLabelValues(model).Inc()
}

func ObserveSQLExecution(engine string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sqlExecutionsTotal.WithLabelValues(engine, status).Inc()
	sqlExecutionLatencyMs.WithLabelValues(engine).Observe(float64(elapsed.Milliseconds()))
}
