package conversations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// MemoryStore keeps conversations in process memory. Used for tests
// and file-less startup.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string]map[string]*models.Message // conversation → message ID → message
	messageIndex  map[string]string                     // message ID → conversation ID
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]map[string]*models.Message),
		messageIndex:  make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if _, exists := s.conversations[conv.ID]; exists {
		return nil, ErrDuplicateConversation
	}

	now := time.Now()
	stored := cloneConversation(conv)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.conversations[stored.ID] = stored
	s.messages[stored.ID] = make(map[string]*models.Message)
	return cloneConversation(stored), nil
}

func (s *MemoryStore) EnsureExists(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[id]; ok {
		return cloneConversation(conv), nil
	}
	now := time.Now()
	conv := &models.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
	s.conversations[id] = conv
	s.messages[id] = make(map[string]*models.Message)
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*models.Conversation
	for _, conv := range s.conversations {
		if ownerID != "" && conv.OwnerUserID != ownerID {
			continue
		}
		convs = append(convs, cloneConversation(conv))
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	if limit <= 0 {
		limit = 50
	}
	if offset >= len(convs) {
		return nil, nil
	}
	convs = convs[offset:]
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	for msgID := range s.messages[id] {
		delete(s.messageIndex, msgID)
	}
	delete(s.messages, id)
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if _, exists := s.messageIndex[msg.ID]; exists {
		return nil, ErrDuplicateMessage
	}

	stored := cloneMessage(msg)
	if stored.ParentID == nil && conv.ActiveBranchID != nil {
		parentID := *conv.ActiveBranchID
		stored.ParentID = &parentID
	}
	if stored.ParentID != nil {
		parentConv, exists := s.messageIndex[*stored.ParentID]
		if !exists {
			return nil, ErrMessageNotFound
		}
		if parentConv != stored.ConversationID {
			return nil, ErrParentMismatch
		}
	}

	now := time.Now()
	stored.CreatedAt = now
	s.messages[stored.ConversationID][stored.ID] = stored
	s.messageIndex[stored.ID] = stored.ConversationID

	branchID := stored.ID
	conv.ActiveBranchID = &branchID
	conv.UpdatedAt = now
	return cloneMessage(stored), nil
}

func (s *MemoryStore) UpdateResponse(ctx context.Context, messageID, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.messageIndex[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	text := response
	s.messages[convID][messageID].FinalResponse = &text
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked(conversationID)
}

func (s *MemoryStore) messagesLocked(conversationID string) ([]*models.Message, error) {
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	msgs := make([]*models.Message, 0, len(s.messages[conversationID]))
	for _, msg := range s.messages[conversationID] {
		msgs = append(msgs, cloneMessage(msg))
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *MemoryStore) Path(ctx context.Context, conversationID, toMessageID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	all, err := s.messagesLocked(conversationID)
	if err != nil {
		return nil, err
	}
	return pathOf(conv, all, toMessageID)
}

func (s *MemoryStore) Children(ctx context.Context, conversationID, messageID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.messagesLocked(conversationID)
	if err != nil {
		return nil, err
	}
	var children []*models.Message
	for _, msg := range all {
		switch {
		case messageID == "" && msg.ParentID == nil:
			children = append(children, msg)
		case messageID != "" && msg.ParentID != nil && *msg.ParentID == messageID:
			children = append(children, msg)
		}
	}
	return children, nil
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	clone := *conv
	if conv.ActiveBranchID != nil {
		id := *conv.ActiveBranchID
		clone.ActiveBranchID = &id
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.ParentID != nil {
		id := *msg.ParentID
		clone.ParentID = &id
	}
	if msg.FinalResponse != nil {
		text := *msg.FinalResponse
		clone.FinalResponse = &text
	}
	return &clone
}
