package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics for the orchestration server:
// run lifecycle, LLM and tool performance, permission decisions,
// stream buffer fill, HTTP traffic, and database queries.
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: status (completed|interrupted|error)
	RunCounter *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	// Labels: status
	RunDuration *prometheus.HistogramVec

	// ActiveRuns tracks runs currently executing.
	ActiveRuns prometheus.Gauge

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|scripted), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// PermissionCounter counts permission gate outcomes.
	// Labels: tool_name, decision (requested|approved|denied)
	PermissionCounter *prometheus.CounterVec

	// ArtifactMutationCounter counts artifact writes.
	// Labels: update_type (create|update|rewrite)
	ArtifactMutationCounter *prometheus.CounterVec

	// ActiveStreamBuffers tracks live stream buffers.
	ActiveStreamBuffers prometheus.Gauge

	// StreamEventCounter counts events pushed to stream buffers.
	// Labels: type
	StreamEventCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (controller|graph|agent|tool|store|http), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation (select|insert|update|delete), table
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with the given registerer.
// Tests use isolated registries to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_runs_total",
				Help: "Total number of finished runs by terminal status",
			},
			[]string{"status"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifactflow_run_duration_seconds",
				Help:    "Wall time of runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "artifactflow_runs_active",
				Help: "Number of runs currently executing",
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifactflow_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifactflow_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		PermissionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_permission_decisions_total",
				Help: "Permission gate outcomes by tool and decision",
			},
			[]string{"tool_name", "decision"},
		),

		ArtifactMutationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_artifact_mutations_total",
				Help: "Artifact content mutations by update type",
			},
			[]string{"update_type"},
		),

		ActiveStreamBuffers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "artifactflow_stream_buffers_active",
				Help: "Number of live stream buffers",
			},
		),

		StreamEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_stream_events_total",
				Help: "Events pushed to stream buffers by type",
			},
			[]string{"type"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifactflow_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifactflow_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifactflow_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished records a terminal run status and duration.
func (m *Metrics) RunFinished(status string, durationSeconds float64) {
	m.ActiveRuns.Dec()
	m.RunCounter.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordLLMRequest records latency, status, and token usage for one
// LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordPermission records a permission gate outcome.
func (m *Metrics) RecordPermission(toolName, decision string) {
	m.PermissionCounter.WithLabelValues(toolName, decision).Inc()
}

// RecordArtifactMutation counts one artifact write by update type.
func (m *Metrics) RecordArtifactMutation(updateType string) {
	m.ArtifactMutationCounter.WithLabelValues(updateType).Inc()
}

// StreamBufferCreated increments the live-buffer gauge.
func (m *Metrics) StreamBufferCreated() {
	m.ActiveStreamBuffers.Inc()
}

// StreamBufferRemoved decrements the live-buffer gauge.
func (m *Metrics) StreamBufferRemoved() {
	m.ActiveStreamBuffers.Dec()
}

// RecordStreamEvent counts one event pushed to a stream buffer.
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEventCounter.WithLabelValues(eventType).Inc()
}

// RecordError increments the error counter for a component/type pair.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
