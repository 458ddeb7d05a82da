package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SubagentToolName is the distinguished routing pseudo-tool. The
// orchestration graph intercepts calls to it and redirects control to
// the named agent; it never runs in the tool-execution step.
const SubagentToolName = "call_subagent"

// CallSubagentTool delegates a task to a specialized agent. It exists
// so the tool appears in the lead's toolkit, prompt, and validation
// like any other tool.
type CallSubagentTool struct{}

func (t *CallSubagentTool) Name() string { return SubagentToolName }

func (t *CallSubagentTool) Description() string {
	return "Delegate a task to a specialized agent. The agent works with the shared conversation artifacts and reports back when done."
}

func (t *CallSubagentTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{
				"type":        "string",
				"description": "Name of the agent to delegate to.",
			},
			"instruction": map[string]any{
				"type":        "string",
				"description": "Complete, self-contained task description for the agent.",
			},
		},
		"required": []string{"agent_name", "instruction"},
	})
}

func (t *CallSubagentTool) Permission() PermissionLevel { return PermissionPublic }

// Execute only validates. Reaching it with valid params means the
// graph failed to intercept the call, which must surface loudly.
func (t *CallSubagentTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if _, _, err := SubagentRoute(params); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	return Errorf("call_subagent is dispatched by the orchestrator and cannot run as a regular tool"), nil
}

// SubagentRoute extracts the routing target from call_subagent params.
func SubagentRoute(params map[string]any) (agentName, instruction string, err error) {
	var input struct {
		AgentName   string `json:"agent_name"`
		Instruction string `json:"instruction"`
	}
	if err := decodeParams(params, &input); err != nil {
		return "", "", err
	}
	input.AgentName = strings.TrimSpace(input.AgentName)
	if input.AgentName == "" {
		return "", "", fmt.Errorf("agent_name is required")
	}
	if strings.TrimSpace(input.Instruction) == "" {
		return "", "", fmt.Errorf("instruction is required")
	}
	return input.AgentName, input.Instruction, nil
}
