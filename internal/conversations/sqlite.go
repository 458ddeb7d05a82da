package conversations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// SQLiteStore implements Store on SQLite with the same transactional
// shape as the PostgreSQL backend.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an already opened and migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_user_id, title, active_branch_message_id, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)`,
		conv.ID, nullIfEmpty(conv.OwnerUserID), nullIfEmpty(conv.Title), now, now,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	stored := cloneConversation(conv)
	stored.ActiveBranchID = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored, nil
}

func (s *SQLiteStore) EnsureExists(ctx context.Context, id string) (*models.Conversation, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`,
		id, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to ensure conversation: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, title, active_branch_message_id, created_at, updated_at
		FROM conversations WHERE id = ?`, id))
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_user_id, title, active_branch_message_id, created_at, updated_at
		FROM conversations WHERE (? = '' OR owner_user_id = ?)
		ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`,
		ownerID, ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin add message: %w", err)
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.QueryRowContext(ctx, `
		SELECT id, owner_user_id, title, active_branch_message_id, created_at, updated_at
		FROM conversations WHERE id = ?`, msg.ConversationID))
	if err != nil {
		return nil, err
	}

	stored := cloneMessage(msg)
	if stored.ParentID == nil && conv.ActiveBranchID != nil {
		parentID := *conv.ActiveBranchID
		stored.ParentID = &parentID
	}
	if stored.ParentID != nil {
		parent, err := scanMessage(tx.QueryRowContext(ctx, `
			SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
			FROM messages WHERE id = ?`, *stored.ParentID))
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != stored.ConversationID {
			return nil, ErrParentMismatch
		}
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		stored.ID, stored.ConversationID, stored.ParentID, stored.UserContent, stored.RunID, now,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET active_branch_message_id = ?, updated_at = ? WHERE id = ?`,
		stored.ID, now, stored.ConversationID,
	); err != nil {
		return nil, fmt.Errorf("failed to advance branch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit add message: %w", err)
	}

	stored.CreatedAt = now
	return stored, nil
}

func (s *SQLiteStore) UpdateResponse(ctx context.Context, messageID, response string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET agent_final_response = ? WHERE id = ?`, response, messageID)
	if err != nil {
		return fmt.Errorf("failed to update response: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) Path(ctx context.Context, conversationID, toMessageID string) ([]*models.Message, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	all, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return pathOf(conv, all, toMessageID)
}

func (s *SQLiteStore) Children(ctx context.Context, conversationID, messageID string) ([]*models.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
		FROM messages WHERE conversation_id = ?
		AND ((? = '' AND parent_id IS NULL) OR parent_id = ?)
		ORDER BY created_at, id`,
		conversationID, messageID, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
