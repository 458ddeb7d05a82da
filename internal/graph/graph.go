package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artifactflow/artifactflow/internal/agents"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/tools"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// DefaultMaxSteps caps graph transitions per run, independent of the
// per-agent tool round bound.
const DefaultMaxSteps = 100

// Graph executes runs against one roster snapshot. A graph is built
// per run so its event sink and roster stay fixed for the run's
// lifetime, including across a permission suspension.
type Graph struct {
	roster   *agents.Roster
	runtime  *agents.Runtime
	emit     func(models.RunEvent) bool
	logger   *observability.Logger
	metrics  *observability.Metrics
	maxSteps int
}

// New builds a graph over a roster snapshot. maxSteps values below one
// fall back to DefaultMaxSteps. metrics may be nil.
func New(roster *agents.Roster, maxSteps int, emit func(models.RunEvent) bool, logger *observability.Logger, metrics *observability.Metrics) *Graph {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if emit == nil {
		emit = func(models.RunEvent) bool { return true }
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Graph{
		roster:   roster,
		runtime:  agents.NewRuntime(emit, logger, metrics),
		emit:     emit,
		logger:   logger,
		metrics:  metrics,
		maxSteps: maxSteps,
	}
}

// Run drives the state machine until the run completes or suspends on
// a permission decision. Artifact tools inside the run bind to the
// conversation's artifact session.
func (g *Graph) Run(ctx context.Context, state *State) (*Outcome, error) {
	if state.Phase == "" {
		state.Phase = PhaseLeadExecuting
	}
	if state.CurrentAgent == "" {
		state.CurrentAgent = g.roster.Lead().Name
	}
	if state.Interactions == nil {
		state.Interactions = make(map[string][]agents.ToolInteraction)
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now().UTC()
	}
	ctx = tools.WithSession(ctx, state.ConversationID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state.Steps >= g.maxSteps {
			return nil, fmt.Errorf("run exceeded %d graph steps", g.maxSteps)
		}
		state.Steps++

		switch state.Phase {
		case PhaseLeadExecuting:
			if state.PendingTool != nil {
				if err := g.executeTool(ctx, state); err != nil {
					return nil, err
				}
				continue
			}
			if err := g.agentTurn(ctx, state, g.roster.Lead()); err != nil {
				return nil, err
			}

		case PhaseSubagentExecuting:
			if state.PendingTool != nil {
				if err := g.executeTool(ctx, state); err != nil {
					return nil, err
				}
				continue
			}
			agent, ok := g.roster.Get(state.CurrentAgent)
			if !ok {
				return nil, fmt.Errorf("agent %s is no longer configured", state.CurrentAgent)
			}
			if err := g.agentTurn(ctx, state, agent); err != nil {
				return nil, err
			}

		case PhaseWaitingPermission:
			p := state.Pending
			if p == nil {
				return nil, fmt.Errorf("waiting on permission with no pending call")
			}
			g.emit(models.PermissionRequestEvent(p.FromAgent, p.ToolName, p.Params, string(p.Level)))
			if g.metrics != nil {
				g.metrics.RecordPermission(p.ToolName, "requested")
			}
			g.logger.Info(ctx, "run suspended on permission",
				"run_id", state.RunID, "tool", p.ToolName, "agent", p.FromAgent)
			return &Outcome{Interrupted: true, Pending: p, Metrics: state.snapshotMetrics()}, nil

		case PhaseCompleted:
			return &Outcome{FinalResponse: state.FinalResponse, Metrics: state.snapshotMetrics()}, nil

		default:
			return nil, fmt.Errorf("unknown phase %q", state.Phase)
		}
	}
}

// Resume re-enters a run suspended on a permission decision. Approval
// queues the gated call for execution; denial synthesizes an error
// result so the agent sees the refusal and answers accordingly. The
// decision is consumed either way.
func (g *Graph) Resume(ctx context.Context, state *State, approved bool) (*Outcome, error) {
	if state.Phase != PhaseWaitingPermission || state.Pending == nil {
		return nil, fmt.Errorf("run %s is not waiting on a permission decision", state.RunID)
	}

	p := state.Pending
	state.Pending = nil

	if approved {
		if g.metrics != nil {
			g.metrics.RecordPermission(p.ToolName, "approved")
		}
		pt := p.PendingTool
		state.PendingTool = &pt
	} else {
		if g.metrics != nil {
			g.metrics.RecordPermission(p.ToolName, "denied")
		}
		res := tools.Errorf("Permission denied by user")
		g.emit(models.ToolCompleteEvent(p.FromAgent, p.ToolName, false, 0, res.Content, nil))
		state.Interactions[p.FromAgent] = append(state.Interactions[p.FromAgent],
			agents.NewInteraction(p.Assistant, p.ToolName, res))
	}

	if lead := g.roster.Lead(); p.FromAgent == lead.Name {
		state.Phase = PhaseLeadExecuting
	} else {
		state.Phase = PhaseSubagentExecuting
	}
	state.CurrentAgent = p.FromAgent

	return g.Run(ctx, state)
}

// agentTurn runs one LLM turn for the agent and folds the routing
// decision into the state.
func (g *Graph) agentTurn(ctx context.Context, state *State, agent *agents.Agent) error {
	turn := &agents.Turn{
		Agent:        agent,
		Instruction:  state.Instruction,
		History:      state.History,
		Interactions: state.Interactions[agent.Name],
	}
	if agent.IsLead() {
		turn.Subagents = g.roster.Subagents()
	} else {
		// A delegated turn is self-contained: the instruction carries
		// everything, shared context lives in artifacts.
		turn.Instruction = state.Delegation.Instruction
		turn.History = nil
	}

	res, err := g.runtime.ExecuteTurn(ctx, turn)
	if err != nil {
		return err
	}
	state.Metrics.LLMCalls++
	state.Metrics.TotalTokens += res.Usage.Total()

	if res.Routing == nil {
		if agent.IsLead() {
			state.FinalResponse = res.Final
			state.Phase = PhaseCompleted
			return nil
		}
		g.completeDelegation(state, agent, res.Final)
		return nil
	}

	switch res.Routing.Type {
	case agents.RouteSubagent:
		target, ok := g.roster.Get(res.Routing.Target)
		if !ok || target.IsLead() {
			// Hallucinated or self-referential target: answer the call
			// with a corrective error instead of executing anything.
			failure := tools.Errorf("unknown agent %q; available agents: %s",
				res.Routing.Target, strings.Join(subagentNames(g.roster), ", "))
			state.Interactions[agent.Name] = append(state.Interactions[agent.Name],
				agents.NewInteraction(res.Content, tools.SubagentToolName, failure))
			return nil
		}
		state.Delegation = &Delegation{
			Target:      target.Name,
			Instruction: res.Routing.Instruction,
			Assistant:   res.Content,
		}
		state.Phase = PhaseSubagentExecuting
		state.CurrentAgent = target.Name

	case agents.RouteToolCall:
		pt := &PendingTool{
			FromAgent: agent.Name,
			Assistant: res.Content,
			ToolName:  res.Routing.ToolName,
			Params:    res.Routing.Params,
		}
		if level, ok := agent.Toolkit.Permission(pt.ToolName); ok && level.RequiresApproval() {
			state.Pending = &PendingPermission{PendingTool: *pt, Level: level}
			state.Phase = PhaseWaitingPermission
			return nil
		}
		state.PendingTool = pt

	default:
		return fmt.Errorf("agent %s produced unknown routing %q", agent.Name, res.Routing.Type)
	}
	return nil
}

// executeTool resolves the pending call: restricted tools fail closed
// with a synthesized denial, everything else executes through the
// originating agent's toolkit. The outcome lands on that agent's
// transcript and control returns to it.
func (g *Graph) executeTool(ctx context.Context, state *State) error {
	pt := state.PendingTool
	state.PendingTool = nil

	agent, ok := g.roster.Get(pt.FromAgent)
	if !ok {
		return fmt.Errorf("agent %s is no longer configured", pt.FromAgent)
	}

	level, known := agent.Toolkit.Permission(pt.ToolName)
	g.emit(models.ToolStartEvent(agent.Name, pt.ToolName, pt.Params, string(level)))

	var res *tools.Result
	started := time.Now()
	if known && level == tools.PermissionRestricted {
		res = tools.Errorf("Permission denied: %s is restricted", pt.ToolName)
		if g.metrics != nil {
			g.metrics.RecordPermission(pt.ToolName, "restricted")
		}
	} else {
		out, err := agent.Toolkit.Execute(ctx, pt.ToolName, pt.Params)
		if err != nil {
			return fmt.Errorf("tool %s: %w", pt.ToolName, err)
		}
		res = out
	}
	durationMS := time.Since(started).Milliseconds()

	errMsg := ""
	if res.IsError {
		errMsg = res.Content
	}
	g.emit(models.ToolCompleteEvent(agent.Name, pt.ToolName, !res.IsError, durationMS, errMsg, res.Data))
	if g.metrics != nil {
		status := "success"
		if res.IsError {
			status = "error"
		}
		g.metrics.RecordToolExecution(pt.ToolName, status, time.Since(started).Seconds())
	}

	state.Metrics.ToolCalls++
	state.Interactions[pt.FromAgent] = append(state.Interactions[pt.FromAgent],
		agents.NewInteraction(pt.Assistant, pt.ToolName, res))
	return nil
}

// completeDelegation lands a subagent's final content on the lead's
// transcript as the call_subagent result and hands control back. The
// subagent's working transcript is cleared so a later delegation
// starts from its new instruction alone.
func (g *Graph) completeDelegation(state *State, agent *agents.Agent, final string) {
	d := state.Delegation
	state.Delegation = nil

	lead := g.roster.Lead()
	result := &tools.Result{Content: final}
	if strings.TrimSpace(final) == "" {
		result = tools.Errorf("agent %s returned no content", agent.Name)
	}
	state.Interactions[lead.Name] = append(state.Interactions[lead.Name],
		agents.NewInteraction(d.Assistant, tools.SubagentToolName, result))
	delete(state.Interactions, agent.Name)

	state.Phase = PhaseLeadExecuting
	state.CurrentAgent = lead.Name
}

func subagentNames(roster *agents.Roster) []string {
	subs := roster.Subagents()
	names := make([]string, len(subs))
	for i, sub := range subs {
		names[i] = sub.Name
	}
	return names
}
