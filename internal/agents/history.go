package agents

import (
	"fmt"

	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/tools"
)

// ToolInteraction is one completed tool round within an agent's turn:
// the assistant output that carried the call and the result the agent
// observed. Interactions are JSON-serializable so a suspended run can
// stash them and resume with an identical transcript.
type ToolInteraction struct {
	Assistant string `json:"assistant"`
	ToolName  string `json:"tool_name"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
}

// NewInteraction records a finished tool round.
func NewInteraction(assistant, toolName string, res *tools.Result) ToolInteraction {
	ti := ToolInteraction{Assistant: assistant, ToolName: toolName}
	if res != nil {
		ti.Result = res.Content
		ti.IsError = res.IsError
	}
	return ti
}

// RenderResult formats the observed result as the user-role message
// fed back to the model.
func (ti ToolInteraction) RenderResult() string {
	if ti.IsError {
		return fmt.Sprintf("Tool %s failed:\n%s", ti.ToolName, ti.Result)
	}
	return fmt.Sprintf("Tool %s result:\n%s", ti.ToolName, ti.Result)
}

// composeMessages builds the transcript for one LLM call: conversation
// history, then the instruction for this turn, then any completed tool
// rounds as assistant/user pairs. The system prompt travels out of
// band on the request.
func composeMessages(turn *Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turn.History)+2*len(turn.Interactions)+2)
	msgs = append(msgs, turn.History...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: turn.Instruction})
	for _, ti := range turn.Interactions {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: ti.Assistant})
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: ti.RenderResult()})
	}
	return msgs
}
