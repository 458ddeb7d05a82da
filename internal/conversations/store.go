// Package conversations persists the per-conversation message forest.
// Messages never change parents after creation, so the tree is
// append-only and acyclic; branch switching is expressed entirely by
// which leaf the conversation's active branch points at.
package conversations

import (
	"context"
	"errors"

	"github.com/artifactflow/artifactflow/pkg/models"
)

var (
	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrDuplicateConversation indicates the conversation ID is taken.
	ErrDuplicateConversation = errors.New("conversation already exists")

	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateMessage indicates the message ID is taken.
	ErrDuplicateMessage = errors.New("message already exists")

	// ErrParentMismatch indicates the parent belongs to another
	// conversation.
	ErrParentMismatch = errors.New("parent message belongs to a different conversation")
)

// Store persists conversations and their message trees. Implementations:
// memory, postgres, sqlite.
type Store interface {
	// Create inserts a new conversation. A missing ID is generated.
	Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error)

	// EnsureExists creates the conversation if missing and returns it.
	EnsureExists(ctx context.Context, id string) (*models.Conversation, error)

	// Get returns the conversation metadata.
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// List returns conversations most recently updated first. An empty
	// ownerID returns all conversations.
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Conversation, error)

	// Delete removes the conversation and its messages.
	Delete(ctx context.Context, id string) error

	// AddMessage appends a message to the tree. A nil ParentID is
	// defaulted to the conversation's active branch, then the active
	// branch advances to the new message and updated_at moves. The
	// parent, when set, must exist within the same conversation.
	AddMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// UpdateResponse sets the agent's final response on a message.
	UpdateResponse(ctx context.Context, messageID, response string) error

	// Messages returns every message of the conversation in creation
	// order, the flat form of the tree.
	Messages(ctx context.Context, conversationID string) ([]*models.Message, error)

	// Path walks parent links from toMessageID (or the active branch
	// when empty) up to a root and returns the chain oldest first. An
	// empty conversation yields an empty path.
	Path(ctx context.Context, conversationID, toMessageID string) ([]*models.Message, error)

	// Children returns the direct children of messageID in creation
	// order. An empty messageID returns the root messages.
	Children(ctx context.Context, conversationID, messageID string) ([]*models.Message, error)
}

// pathOf resolves the parent chain from the in-memory flat form,
// shared by all backends.
func pathOf(conv *models.Conversation, all []*models.Message, toMessageID string) ([]*models.Message, error) {
	target := toMessageID
	if target == "" {
		if conv.ActiveBranchID == nil {
			return nil, nil
		}
		target = *conv.ActiveBranchID
	}

	byID := make(map[string]*models.Message, len(all))
	for _, msg := range all {
		byID[msg.ID] = msg
	}

	var path []*models.Message
	id := target
	for range all {
		msg, ok := byID[id]
		if !ok {
			return nil, ErrMessageNotFound
		}
		path = append(path, msg)
		if msg.ParentID == nil {
			break
		}
		id = *msg.ParentID
	}
	if len(path) == 0 {
		return nil, ErrMessageNotFound
	}

	// Reverse into root-first order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
