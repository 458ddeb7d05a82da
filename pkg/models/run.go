package models

// EventType identifies the kind of run event on a stream.
type EventType string

const (
	EventMetadata          EventType = "metadata"
	EventAgentStart        EventType = "agent_start"
	EventLLMChunk          EventType = "llm_chunk"
	EventLLMComplete       EventType = "llm_complete"
	EventToolStart         EventType = "tool_start"
	EventToolComplete      EventType = "tool_complete"
	EventPermissionRequest EventType = "permission_request"
	EventAgentComplete     EventType = "agent_complete"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
)

// RunEvent is a single event on a run's stream. Data is the object
// serialized into the SSE data field.
type RunEvent struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// Terminal reports whether the event ends its stream. Consumers stop
// after the first terminal event.
func (e RunEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// TokenUsage counts prompt and completion tokens for LLM calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ToolCall is a tool invocation parsed from model output.
type ToolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ExecutionMetrics aggregates counters across one run.
type ExecutionMetrics struct {
	LLMCalls    int   `json:"llm_calls"`
	ToolCalls   int   `json:"tool_calls"`
	TotalTokens int   `json:"total_tokens"`
	DurationMS  int64 `json:"duration_ms"`
}

// MetadataEvent announces the identifiers of a freshly started run.
func MetadataEvent(conversationID, messageID, runID string) RunEvent {
	return RunEvent{Type: EventMetadata, Data: map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"run_id":          runID,
	}}
}

// AgentStartEvent marks an agent beginning a turn.
func AgentStartEvent(agent string) RunEvent {
	return RunEvent{Type: EventAgentStart, Data: map[string]any{
		"agent": agent,
	}}
}

// LLMChunkEvent carries the cumulative streamed text for an agent's
// in-flight LLM call. Empty fields are omitted.
func LLMChunkEvent(agent, content, reasoning string) RunEvent {
	data := map[string]any{"agent": agent}
	if content != "" {
		data["content"] = content
	}
	if reasoning != "" {
		data["reasoning_content"] = reasoning
	}
	return RunEvent{Type: EventLLMChunk, Data: data}
}

// LLMCompleteEvent reports token usage for a finished LLM call.
func LLMCompleteEvent(agent string, usage TokenUsage) RunEvent {
	return RunEvent{Type: EventLLMComplete, Data: map[string]any{
		"agent":       agent,
		"token_usage": usage,
	}}
}

// ToolStartEvent marks the beginning of a tool execution. The
// permission level lets clients surface notify-level executions.
func ToolStartEvent(agent, tool string, params map[string]any, level string) RunEvent {
	data := map[string]any{
		"agent":  agent,
		"tool":   tool,
		"params": params,
	}
	if level != "" {
		data["permission_level"] = level
	}
	return RunEvent{Type: EventToolStart, Data: data}
}

// ToolCompleteEvent reports the outcome of a tool execution.
func ToolCompleteEvent(agent, tool string, success bool, durationMS int64, errMsg string, resultData map[string]any) RunEvent {
	data := map[string]any{
		"agent":       agent,
		"tool":        tool,
		"success":     success,
		"duration_ms": durationMS,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	if resultData != nil {
		data["result_data"] = resultData
	}
	return RunEvent{Type: EventToolComplete, Data: data}
}

// PermissionRequestEvent asks the client to approve a gated tool call.
func PermissionRequestEvent(agent, tool string, params map[string]any, level string) RunEvent {
	return RunEvent{Type: EventPermissionRequest, Data: map[string]any{
		"agent":            agent,
		"tool":             tool,
		"params":           params,
		"permission_level": level,
	}}
}

// AgentCompleteEvent carries an agent's text for its turn. When the
// turn ended in a tool call or a delegation, routing describes where
// control flows next; a nil routing means the turn is final.
func AgentCompleteEvent(agent, content string, routing any) RunEvent {
	data := map[string]any{
		"agent":   agent,
		"content": content,
	}
	if routing != nil {
		data["routing"] = routing
	}
	return RunEvent{Type: EventAgentComplete, Data: data}
}

// CompleteEvent terminates a run that produced a final response.
func CompleteEvent(response string, metrics ExecutionMetrics) RunEvent {
	return RunEvent{Type: EventComplete, Data: map[string]any{
		"interrupted":       false,
		"response":          response,
		"execution_metrics": metrics,
	}}
}

// InterruptedEvent terminates a stream for a run suspended mid-flight,
// e.g. while waiting on a permission decision.
func InterruptedEvent(interruptType string, interruptData map[string]any, metrics ExecutionMetrics) RunEvent {
	return RunEvent{Type: EventComplete, Data: map[string]any{
		"interrupted":       true,
		"interrupt_type":    interruptType,
		"interrupt_data":    interruptData,
		"execution_metrics": metrics,
	}}
}

// ErrorEvent terminates a run that failed.
func ErrorEvent(message string) RunEvent {
	return RunEvent{Type: EventError, Data: map[string]any{
		"error": message,
	}}
}
