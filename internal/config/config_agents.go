package config

import "time"

// Agent roles within the orchestration graph.
const (
	AgentRoleLead     = "lead"
	AgentRoleSubagent = "subagent"
)

// AgentsConfig declares the agent roster. Definitions may live inline
// or in a separate file referenced by File; the file wins when both
// are set. Watch reloads the file on change.
type AgentsConfig struct {
	File        string            `yaml:"file"`
	Watch       bool              `yaml:"watch"`
	Definitions []AgentDefinition `yaml:"definitions"`

	// MaxSteps caps graph transitions per run.
	MaxSteps int `yaml:"max_steps"`

	// History compression: transcripts above HistoryCompressChars are
	// truncated down to the most recent HistoryKeepRecent messages
	// when building LLM context.
	HistoryCompressChars int `yaml:"history_compress_chars"`
	HistoryKeepRecent    int `yaml:"history_keep_recent"`
}

// AgentDefinition is the YAML shape of one agent.
type AgentDefinition struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Role          string   `yaml:"role"`
	Provider      string   `yaml:"provider"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
	MaxToolRounds int      `yaml:"max_tool_rounds"`
	Tools         []string `yaml:"tools"`
	SystemPrompt  string   `yaml:"system_prompt"`

	// MaxRetries and RetryBaseDelay override the llm section when set.
	MaxRetries     *int          `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}
