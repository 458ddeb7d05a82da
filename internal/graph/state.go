// Package graph drives one run through the orchestration state
// machine: the lead node, one node per subagent, the tool-execution
// step, and the permission-confirmation node. The graph owns run
// progress; the controller owns stream lifecycle and persistence.
package graph

import (
	"time"

	"github.com/artifactflow/artifactflow/internal/agents"
	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/tools"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// Phase is the run state machine position.
type Phase string

const (
	PhaseLeadExecuting     Phase = "LEAD_EXECUTING"
	PhaseSubagentExecuting Phase = "SUBAGENT_EXECUTING"
	PhaseWaitingPermission Phase = "WAITING_PERMISSION"
	PhaseCompleted         Phase = "COMPLETED"
)

// PendingTool is a routed tool call waiting to execute, tagged with
// the agent that issued it and the assistant text that carried it.
type PendingTool struct {
	FromAgent string         `json:"from_agent"`
	Assistant string         `json:"assistant"`
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"params,omitempty"`
}

// PendingPermission is a confirm-gated tool call suspended on a user
// decision.
type PendingPermission struct {
	PendingTool
	Level tools.PermissionLevel `json:"permission_level"`
}

// Delegation tracks an in-flight subagent invocation: who was called,
// with what instruction, and the lead text that made the call. The
// subagent's final content lands on the lead's transcript as a
// synthetic call_subagent result.
type Delegation struct {
	Target      string `json:"target"`
	Instruction string `json:"instruction"`
	Assistant   string `json:"assistant"`
}

// State is the transient run state. It is owned by the executing task
// and serializable so a permission interrupt can stash it and resume
// with an identical transcript.
type State struct {
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`

	// Instruction is the user message driving this run.
	Instruction string `json:"instruction"`

	// History is the compressed conversation transcript for the lead.
	History []llm.Message `json:"history,omitempty"`

	Phase        Phase  `json:"phase"`
	CurrentAgent string `json:"current_agent"`

	// Interactions holds each agent's completed tool rounds for its
	// current turn sequence.
	Interactions map[string][]agents.ToolInteraction `json:"agent_memories"`

	Delegation  *Delegation        `json:"delegation,omitempty"`
	PendingTool *PendingTool       `json:"pending_tool,omitempty"`
	Pending     *PendingPermission `json:"pending_permission,omitempty"`

	FinalResponse string `json:"final_response,omitempty"`

	Steps     int                     `json:"steps"`
	Metrics   models.ExecutionMetrics `json:"execution_metrics"`
	StartedAt time.Time               `json:"started_at"`
}

// NewState seeds the state for a fresh run.
func NewState(runID, conversationID, messageID, instruction string, history []llm.Message) *State {
	return &State{
		RunID:          runID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Instruction:    instruction,
		History:        history,
		Phase:          PhaseLeadExecuting,
		Interactions:   make(map[string][]agents.ToolInteraction),
		StartedAt:      time.Now().UTC(),
	}
}

func (s *State) snapshotMetrics() models.ExecutionMetrics {
	m := s.Metrics
	if !s.StartedAt.IsZero() {
		m.DurationMS = time.Since(s.StartedAt).Milliseconds()
	}
	return m
}

// Outcome is a run's terminal result from the graph's point of view:
// either a final response or a permission interrupt.
type Outcome struct {
	FinalResponse string
	Interrupted   bool
	Pending       *PendingPermission
	Metrics       models.ExecutionMetrics
}
