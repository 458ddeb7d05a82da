// Package agents defines the configured agent roster and the runtime
// that executes one agent turn against an LLM provider.
package agents

import (
	"fmt"
	"strings"

	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/tools"
)

// DefaultMaxToolRounds bounds tool rounds per agent turn when the
// definition does not set one.
const DefaultMaxToolRounds = 10

// Agent is one configured orchestration participant. Instances are
// immutable after load; reloads swap whole Agent values.
type Agent struct {
	Name          string
	Description   string
	Role          string
	Provider      llm.Provider
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxToolRounds int
	Toolkit       *tools.Toolkit
	SystemPrompt  string
	Retry         llm.RetryPolicy
}

// IsLead reports whether this agent coordinates the run.
func (a *Agent) IsLead() bool {
	return a.Role == config.AgentRoleLead
}

// BuildSystemPrompt renders the complete system prompt: the configured
// base text, the toolkit directory with the invocation protocol, the
// delegation directory for the lead, and artifact working notes when
// the agent can touch artifacts.
func (a *Agent) BuildSystemPrompt(subagents []*Agent) string {
	sections := make([]string, 0, 4)

	base := strings.TrimSpace(a.SystemPrompt)
	if base == "" {
		base = a.defaultPersona()
	}
	sections = append(sections, base)

	if directory := a.Toolkit.Describe(); directory != "" {
		sections = append(sections, strings.TrimSpace(directory))
	}

	if a.IsLead() && len(subagents) > 0 {
		var b strings.Builder
		b.WriteString("Agents you can delegate to with call_subagent:\n")
		for _, sub := range subagents {
			fmt.Fprintf(&b, "- %s: %s\n", sub.Name, sub.Description)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if a.Toolkit.Has("create_artifact") || a.Toolkit.Has("update_artifact") {
		sections = append(sections, artifactNotes)
	}

	return strings.Join(sections, "\n\n")
}

func (a *Agent) defaultPersona() string {
	if a.IsLead() {
		return fmt.Sprintf("You are %s, the coordinator of a team of specialized agents. Break the user's request into steps, delegate focused work, and assemble the final answer yourself.", a.Name)
	}
	return fmt.Sprintf("You are %s. %s Complete the instruction you are given and reply with your findings; you report to the coordinator, not to the user.", a.Name, a.Description)
}

// FormatFinalResponse normalizes an agent's closing text before it is
// surfaced to the user or to the lead.
func (a *Agent) FormatFinalResponse(content string) string {
	return strings.TrimSpace(content)
}

const artifactNotes = `Durable work products (documents, code, plans) belong in artifacts, not in chat text. Read an artifact before editing it and pass the lock_version you observed; on a lock conflict, read again and retry. Prefer update_artifact for targeted edits and rewrite_artifact for full replacements.`
