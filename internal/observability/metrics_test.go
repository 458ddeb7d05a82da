package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

func TestRunLifecycleMetrics(t *testing.T) {
	m := newTestMetrics()

	m.RunStarted()
	m.RunStarted()
	if got := testutil.ToFloat64(m.ActiveRuns); got != 2 {
		t.Errorf("ActiveRuns = %v, want 2", got)
	}

	m.RunFinished("completed", 1.5)
	m.RunFinished("error", 0.2)
	if got := testutil.ToFloat64(m.ActiveRuns); got != 0 {
		t.Errorf("ActiveRuns after finish = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RunCounter.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunCounter.WithLabelValues("error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 2.1, 120, 45)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "success")); got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "prompt")); got != 120 {
		t.Errorf("prompt tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "completion")); got != 45 {
		t.Errorf("completion tokens = %v, want 45", got)
	}
}

func TestRecordLLMRequest_SkipsZeroTokens(t *testing.T) {
	m := newTestMetrics()

	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.1, 0, 0)

	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 0 {
		t.Errorf("token series = %d, want 0 for zero usage", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := newTestMetrics()

	m.RecordToolExecution("create_artifact", "success", 0.02)
	m.RecordToolExecution("create_artifact", "success", 0.04)
	m.RecordToolExecution("update_artifact", "error", 0.01)

	expected := `
		# HELP artifactflow_tool_executions_total Total number of tool executions by tool name and status
		# TYPE artifactflow_tool_executions_total counter
		artifactflow_tool_executions_total{status="error",tool_name="update_artifact"} 1
		artifactflow_tool_executions_total{status="success",tool_name="create_artifact"} 2
	`
	if err := testutil.CollectAndCompare(m.ToolExecutionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestStreamBufferGauge(t *testing.T) {
	m := newTestMetrics()

	m.StreamBufferCreated()
	m.StreamBufferCreated()
	m.StreamBufferRemoved()

	if got := testutil.ToFloat64(m.ActiveStreamBuffers); got != 1 {
		t.Errorf("ActiveStreamBuffers = %v, want 1", got)
	}
}

func TestRecordPermission(t *testing.T) {
	m := newTestMetrics()

	m.RecordPermission("run_command", "requested")
	m.RecordPermission("run_command", "denied")

	if got := testutil.ToFloat64(m.PermissionCounter.WithLabelValues("run_command", "denied")); got != 1 {
		t.Errorf("denied decisions = %v, want 1", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordHTTPRequest("POST", "/api/v1/chat", "200", 0.03)

	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/api/v1/chat", "200")); got != 1 {
		t.Errorf("http counter = %v, want 1", got)
	}
}
