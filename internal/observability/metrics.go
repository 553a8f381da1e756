package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the agent runtime. One
// instance is created at startup and fed from the agent event stream.
type Metrics struct {
	// RunsStarted counts agent runs (one per prompt).
	RunsStarted prometheus.Counter

	// RunsFinished counts completed runs by outcome.
	// Labels: outcome (success|error|cancelled|timeout)
	RunsFinished *prometheus.CounterVec

	// RunDuration observes wall time per run in seconds.
	RunDuration prometheus.Histogram

	// Turns counts agentic-loop iterations across all runs.
	Turns prometheus.Counter

	// LLMRequests counts provider calls.
	// Labels: provider, model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMTokens counts tokens by direction.
	// Labels: provider, model, direction (input|output)
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool dispatches.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration observes tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// Compactions counts context compactions.
	Compactions prometheus.Counter

	// Errors counts runtime errors by component.
	// Labels: component
	Errors *prometheus.CounterVec
}

// NewMetrics creates and registers the runtime collectors with the default
// Prometheus registry, so they are served by the /metrics listener.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codeforge_runs_started_total",
			Help: "Agent runs started (one per prompt)",
		}),
		RunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeforge_runs_finished_total",
			Help: "Agent runs finished, by outcome",
		}, []string{"outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "codeforge_run_duration_seconds",
			Help:    "Wall time per agent run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		Turns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codeforge_turns_total",
			Help: "Agentic loop iterations across all runs",
		}),
		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeforge_llm_requests_total",
			Help: "Provider completion calls",
		}, []string{"provider", "model", "status"}),
		LLMTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeforge_llm_tokens_total",
			Help: "Tokens exchanged with providers",
		}, []string{"provider", "model", "direction"}),
		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeforge_tool_executions_total",
			Help: "Tool dispatches, by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeforge_tool_duration_seconds",
			Help:    "Tool execution time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"tool"}),
		Compactions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codeforge_compactions_total",
			Help: "Context compactions performed",
		}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codeforge_errors_total",
			Help: "Runtime errors, by component",
		}, []string{"component"}),
	}
}

// RecordLLMRequest records one provider call with its token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, inputTokens, outputTokens int) {
	m.LLMRequests.WithLabelValues(provider, model, status).Inc()
	if inputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	if durationSeconds > 0 {
		m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
	}
}

// RecordError records a runtime error attributed to a component.
func (m *Metrics) RecordError(component string) {
	m.Errors.WithLabelValues(component).Inc()
}
