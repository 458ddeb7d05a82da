package conversations

import (
	"fmt"

	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/pkg/models"
)

const (
	// DefaultCompressThreshold is the transcript size in characters
	// above which older turns are folded into a truncation marker.
	DefaultCompressThreshold = 40_000

	// DefaultCompressKeep is how many recent messages survive
	// compression untouched.
	DefaultCompressKeep = 5
)

// FormatHistory flattens a root-first message path into the
// interleaved user/assistant transcript sent to providers. Messages
// still waiting on their run contribute only the user turn.
func FormatHistory(path []*models.Message) []llm.Message {
	history := make([]llm.Message, 0, len(path)*2)
	for _, msg := range path {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: msg.UserContent})
		if msg.FinalResponse != nil {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: *msg.FinalResponse})
		}
	}
	return history
}

// Compress bounds a transcript for the model context window. When the
// total content length exceeds threshold, everything except the last
// keep messages collapses into a single marker turn. Applied at
// history-building time only; stored messages are never rewritten.
func Compress(history []llm.Message, threshold, keep int) []llm.Message {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if keep <= 0 {
		keep = DefaultCompressKeep
	}

	total := 0
	for _, msg := range history {
		total += len(msg.Content)
	}
	if total <= threshold || len(history) <= keep {
		return history
	}

	omitted := len(history) - keep
	marker := llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("[Earlier conversation history truncated: %d messages omitted]", omitted),
	}
	compressed := make([]llm.Message, 0, keep+1)
	compressed = append(compressed, marker)
	compressed = append(compressed, history[omitted:]...)
	return compressed
}
