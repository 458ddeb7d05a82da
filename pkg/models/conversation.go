package models

import "time"

// Conversation owns a tree of messages and exactly one artifact
// session sharing its ID.
type Conversation struct {
	ID             string    `json:"id"`
	OwnerUserID    string    `json:"owner_user_id,omitempty"`
	Title          string    `json:"title,omitempty"`
	ActiveBranchID *string   `json:"active_branch_message_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one user turn in a conversation tree. FinalResponse stays
// nil until the run that served this message completes.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ParentID       *string   `json:"parent_id,omitempty"`
	UserContent    string    `json:"user_content"`
	RunID          string    `json:"run_id"`
	FinalResponse  *string   `json:"agent_final_response,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsRoot reports whether the message starts a new branch of the tree.
func (m *Message) IsRoot() bool {
	return m.ParentID == nil
}
