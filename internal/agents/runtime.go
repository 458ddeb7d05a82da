package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/tools"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// respondNowInstruction closes out a turn that hit its tool round cap.
const respondNowInstruction = "You have reached the tool call limit for this turn. " +
	"Provide your final response now, without calling any tools."

// RoutingType says where control flows after a turn.
type RoutingType string

const (
	RouteSubagent RoutingType = "subagent"
	RouteToolCall RoutingType = "tool_call"
)

// Routing is a turn's control-flow decision. It is JSON-serializable
// so a suspended run can stash the pending decision and resume it.
type Routing struct {
	Type        RoutingType    `json:"type"`
	Target      string         `json:"target,omitempty"`
	Instruction string         `json:"instruction,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// eventData renders the routing for stream events, omitting params so
// large tool inputs do not bloat the agent_complete payload.
func (r *Routing) eventData() map[string]any {
	data := map[string]any{"type": string(r.Type)}
	switch r.Type {
	case RouteSubagent:
		data["target"] = r.Target
	case RouteToolCall:
		data["tool_name"] = r.ToolName
	}
	return data
}

// Turn is the input to one agent execution step: everything the
// runtime needs to compose the transcript and call the model.
type Turn struct {
	Agent *Agent

	// Subagents is the delegation directory rendered into the lead's
	// system prompt. Empty for subagent turns.
	Subagents []*Agent

	// History is the compressed conversation transcript. Subagent
	// turns run without it; their instruction is self-contained.
	History []llm.Message

	// Instruction is the user message for the lead, or the lead's
	// delegation text for a subagent.
	Instruction string

	// Interactions are the tool rounds already completed this turn.
	Interactions []ToolInteraction
}

// TurnResult is what one LLM invocation produced.
type TurnResult struct {
	// Content is the model's full text, including any tool call block.
	// It becomes the Assistant half of the next ToolInteraction.
	Content string

	// Routing is set when the turn ended in a tool call or a
	// delegation. Nil means the turn is final.
	Routing *Routing

	// Final is the cleaned response text, set when Routing is nil.
	Final string

	// Usage is the token count for this call.
	Usage models.TokenUsage
}

// Runtime executes single agent turns: it composes the transcript,
// drives the retried streaming LLM call, emits run events, and parses
// the routing decision out of the response.
type Runtime struct {
	emit    func(models.RunEvent) bool
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRuntime builds a runtime bound to one run's event sink. metrics
// may be nil.
func NewRuntime(emit func(models.RunEvent) bool, logger *observability.Logger, metrics *observability.Metrics) *Runtime {
	if emit == nil {
		emit = func(models.RunEvent) bool { return true }
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Runtime{emit: emit, logger: logger, metrics: metrics}
}

// ExecuteTurn runs one LLM call for the agent and decides what happens
// next. When the turn has used all its tool rounds the model is told to
// answer directly and any further tool call is stripped rather than
// routed.
func (rt *Runtime) ExecuteTurn(ctx context.Context, turn *Turn) (*TurnResult, error) {
	agent := turn.Agent
	ctx = observability.WithAgent(ctx, agent.Name)

	rt.emit(models.AgentStartEvent(agent.Name))

	atRoundCap := agent.MaxToolRounds > 0 && len(turn.Interactions) >= agent.MaxToolRounds

	messages := composeMessages(turn)
	if atRoundCap {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: respondNowInstruction})
	}

	req := &llm.Request{
		Model:       agent.Model,
		System:      agent.BuildSystemPrompt(turn.Subagents),
		Messages:    messages,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}

	start := time.Now()
	content, reasoning, usage, err := rt.stream(ctx, agent, req)
	if rt.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		rt.metrics.RecordLLMRequest(agent.Provider.Name(), agent.Model, status,
			time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens)
	}
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
	}

	rt.emit(models.LLMCompleteEvent(agent.Name, usage))
	if reasoning != "" {
		rt.logger.Debug(ctx, "model reasoning complete", "chars", len(reasoning))
	}

	result := &TurnResult{Content: content, Usage: usage}

	call := tools.ParseToolCall(content)
	if call == nil || atRoundCap {
		final := content
		if call != nil {
			// The model called a tool after being told not to. Drop
			// the block and keep the surrounding prose as the answer.
			final = strings.Replace(final, call.Raw, "", 1)
			rt.logger.Warn(ctx, "tool call after round cap ignored", "tool", call.Name)
		}
		result.Final = agent.FormatFinalResponse(final)
		rt.emit(models.AgentCompleteEvent(agent.Name, result.Final, nil))
		return result, nil
	}

	result.Routing = rt.route(agent, call)
	rt.emit(models.AgentCompleteEvent(agent.Name, content, result.Routing.eventData()))
	return result, nil
}

// route translates a parsed tool call into a routing decision. The
// lead's call_subagent becomes a delegation when its params validate;
// everything else routes as a plain tool call, letting toolkit
// validation produce the corrective error the model sees next round.
func (rt *Runtime) route(agent *Agent, call *tools.ToolCall) *Routing {
	if call.Name == tools.SubagentToolName && agent.IsLead() {
		if target, instruction, err := tools.SubagentRoute(call.Params); err == nil {
			return &Routing{Type: RouteSubagent, Target: target, Instruction: instruction}
		}
	}
	return &Routing{Type: RouteToolCall, ToolName: call.Name, Params: call.Params}
}

// stream drains one retried completion call, emitting cumulative
// llm_chunk events as text arrives.
func (rt *Runtime) stream(ctx context.Context, agent *Agent, req *llm.Request) (content, reasoning string, usage models.TokenUsage, err error) {
	ch, err := llm.CallWithRetry(ctx, agent.Provider, req, agent.Retry)
	if err != nil {
		return "", "", usage, err
	}

	var contentBuf, reasoningBuf strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", "", usage, chunk.Err
		}
		if chunk.Content != "" || chunk.Reasoning != "" {
			contentBuf.WriteString(chunk.Content)
			reasoningBuf.WriteString(chunk.Reasoning)
			rt.emit(models.LLMChunkEvent(agent.Name, contentBuf.String(), reasoningBuf.String()))
		}
		if chunk.Usage != nil {
			usage.Add(*chunk.Usage)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", "", usage, err
	}
	return contentBuf.String(), reasoningBuf.String(), usage, nil
}
